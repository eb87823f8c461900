package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/nanobot/pkg/agent"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// echoProvider answers every request with the last user message.
type echoProvider struct{}

func (echoProvider) Chat(_ context.Context, req agent.ChatRequest) (*agent.LLMResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return &agent.LLMResponse{Content: "echo: " + last.Content}, nil
}

func (echoProvider) DefaultModel() string { return "echo" }
func (echoProvider) Provider() string     { return "echo" }

// testHome points HOME at a temp dir so every default path lands inside it, and
// returns the config path to pass with --config.
func testHome(t *testing.T) (home, configPath string) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("NANOBOT_LOGGING__CONSOLE", "false")

	providerOverride = echoProvider{}
	t.Cleanup(func() { providerOverride = nil })

	return home, filepath.Join(home, ".nanobot", "config.json")
}

// execute runs the root command with fresh flag state and returns its stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	resetFlags(cmd)

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
