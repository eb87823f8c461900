package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/harun/nanobot/internal/daemon"
	"github.com/harun/nanobot/pkg/agent"
	"github.com/spf13/cobra"
)

var (
	agentMessage string
	agentSession string

	// providerOverride replaces the configured LLM provider when set.
	providerOverride agent.LLMProvider
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with the agent from the terminal",
	Long: `Send a single message with -m, or start an interactive session on stdin.
Type "exit" or "quit" to leave interactive mode.`,
	Annotations: map[string]string{quietAnnotation: "true"},
	RunE:        runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "message to send")
	agentCmd.Flags().StringVarP(&agentSession, "session", "s", agent.DirectSessionKey, "session key")
	rootCmd.AddCommand(agentCmd)
}

func newRuntime() (*daemon.Runtime, error) {
	return daemon.NewRuntime(appConfig, providerOverride)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	if agentMessage != "" {
		reply, err := rt.Loop.ProcessDirect(ctx, agentMessage, agentSession)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "🐈 %s\n", reply)
		return nil
	}

	return repl(ctx, rt.Loop, cmd.InOrStdin(), out)
}

func repl(ctx context.Context, loop *agent.Loop, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, `🐈 Interactive mode (type "exit" or Ctrl+C to quit)`)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		reply, err := loop.ProcessDirect(ctx, line, agentSession)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\n🐈 %s\n\n", reply)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	fmt.Fprintln(out, "Goodbye!")
	return nil
}
