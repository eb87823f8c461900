package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/internal/daemon"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show nanobot status",
	Long:  `Show the config, workspace, configured providers and whether the gateway is running.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	cfg := appConfig
	configPath := config.NewLoader(cfgFile).GetConfigPath()

	fmt.Fprintln(out, "🐈 nanobot status")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Config: %s %s\n", configPath, mark(fileExists(configPath)))
	fmt.Fprintf(out, "Workspace: %s %s\n", cfg.WorkspacePath(), mark(fileExists(cfg.WorkspacePath())))
	fmt.Fprintf(out, "Model: %s\n", cfg.Agents.Defaults.Model)
	printProviders(out, cfg)

	lifecycle := daemon.NewLifecycleManager(cfg.PIDFile())
	pid, running := lifecycle.IsRunning()
	if !running {
		fmt.Fprintln(out, "Gateway: stopped")
		return nil
	}

	fmt.Fprintln(out, "Gateway: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	fmt.Fprintf(out, "Uptime: %s\n", formatDuration(lifecycle.Uptime()))
	fmt.Fprintf(out, "Address: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	return nil
}

func printProviders(out io.Writer, cfg *config.Config) {
	p := cfg.Providers
	fmt.Fprintf(out, "OpenRouter API: %s\n", mark(p.OpenRouter.APIKey != ""))
	fmt.Fprintf(out, "Anthropic API: %s\n", mark(p.Anthropic.APIKey != ""))
	fmt.Fprintf(out, "OpenAI API: %s\n", mark(p.OpenAI.APIKey != ""))
	fmt.Fprintf(out, "Gemini API: %s\n", mark(p.Gemini.APIKey != ""))
	fmt.Fprintf(out, "Groq API: %s\n", mark(p.Groq.APIKey != ""))
	fmt.Fprintf(out, "Zhipu API: %s\n", mark(p.Zhipu.APIKey != ""))
	if p.VLLM.APIBase != "" {
		fmt.Fprintf(out, "vLLM: ✓ %s\n", p.VLLM.APIBase)
	} else {
		fmt.Fprintf(out, "vLLM: %s\n", mark(false))
	}
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
