package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/co2light/co2light/internal/config"
	"github.com/co2light/co2light/internal/logger"
	"github.com/co2light/co2light/internal/service/daemon"
	"github.com/co2light/co2light/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// logLevel stores the requested logging level name.
	logLevel string
	// debug controls whether the daily active window is ignored.
	debug bool

	// rootCmd represents the base command running the bridge daemon.
	rootCmd = &cobra.Command{
		Use:   "co2light",
		Short: "Drive room lighting from CO2 readings.",
		Long: `Bridge between a Netatmo home coach and Philips Hue lighting.

Samples the CO2 concentration once a minute during the day, classifies it
against fixed thresholds and flashes the room lights orange or red when the
air gets bad, restoring the configured baseline scene afterwards. Both
vendor integrations authenticate through OAuth2; the authorization URLs are
printed at startup and the redirect callbacks are served by this process.

Tokens and alert state live in memory only and are re-established on restart.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			return daemon.Run(ctx, &daemon.Options{
				ConfigPath: configPath,
				Debug:      debug,
			})
		},
	}
)

// Execute runs the co2light CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "logging level (debug, info, warn, error, fatal)")

	// Hidden debug flag to act outside the daily window while testing.
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "ignore the daily active window")

	if err := rootCmd.Flags().MarkHidden("debug"); err != nil {
		panic(err)
	}
}
