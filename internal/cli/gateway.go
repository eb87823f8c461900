package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/harun/nanobot/internal/daemon"
	"github.com/spf13/cobra"
)

var gatewayPort int

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the nanobot gateway",
	Long: `Run the agent loop, enabled chat channels, the cron scheduler and the
HTTP server (/healthz, /metrics, /ws) until SIGINT or SIGTERM.`,
	RunE: runGateway,
}

func init() {
	gatewayCmd.Flags().IntVarP(&gatewayPort, "port", "p", 0, "gateway port (overrides config)")
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(cmd *cobra.Command, _ []string) error {
	if gatewayPort > 0 {
		appConfig.Gateway.Port = gatewayPort
	}
	if err := appConfig.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime()
	if err != nil {
		return err
	}

	d, err := daemon.New(appConfig, rt, cmd.OutOrStdout())
	if err != nil {
		rt.Close()
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "🐈 Starting nanobot gateway on %s:%d\n", appConfig.Gateway.Host, appConfig.Gateway.Port)
	return d.Run(ctx)
}
