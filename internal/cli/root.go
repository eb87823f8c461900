package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/internal/logger"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// quietAnnotation marks commands whose console logging defaults to warn so that
// agent replies are not buried in log lines.
const quietAnnotation = "quiet"

var (
	cfgFile  string
	logLevel string
	verbose  bool

	appConfig *config.Config
	appLogger *logger.Logger
	traceFile *os.File
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nanobot",
	Short: "nanobot - a lightweight personal AI assistant",
	Long: `nanobot is a lightweight personal AI assistant.
It runs an LLM tool loop over a message bus and talks to you from the
terminal, Telegram, WhatsApp or a WebSocket client.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnFinalize(teardown)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nanobot/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	appConfig = cfg

	lc := logger.Config{
		Level:     cfg.Logging.Level,
		File:      config.ExpandHome(cfg.Logging.File),
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
	switch {
	case verbose:
		lc.Level = "debug"
	case cmd.Flags().Changed("log-level"):
		lc.Level = logLevel
	case cmd.Annotations[quietAnnotation] == "true":
		lc.Level = "warn"
	}

	l, err := logger.New(lc)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	appLogger = l

	if cfg.Telemetry.Enabled {
		if err := initTelemetry(cfg.Telemetry); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize OpenTelemetry")
		}
	}
	return nil
}

func initTelemetry(tc config.TelemetryConfig) error {
	opts := tracing.Options{
		ServiceName:    tc.ServiceName,
		ServiceVersion: version,
		SampleRatio:    tc.SampleRatio,
	}
	if tc.File != "" {
		path := config.ExpandHome(tc.File)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create trace directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		traceFile = f
		opts.Output = f
	}
	return tracing.InitOpenTelemetry(opts)
}

func teardown() {
	if appConfig != nil && appConfig.Telemetry.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
		if traceFile != nil {
			_ = traceFile.Close()
			traceFile = nil
		}
	}
	if appLogger != nil {
		_ = appLogger.Close()
		appLogger = nil
	}
}
