package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/trafficlight/internal/config"
	"github.com/conneroisu/trafficlight/internal/logging"
	"github.com/conneroisu/trafficlight/internal/metrics"
	"github.com/conneroisu/trafficlight/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Serve the latest build",
	Long: `Serve the output of the latest build over HTTP. The server only reads the
output directories and never starts a build.

Routes:
  /                  page of the default locale
  /{locale}          page of a locale
  /pdf/{locale}      document of a locale
  /assets/...        stylesheet and static assets

Examples:
  trafficlight serve                       # Serve on the configured address
  trafficlight serve --port 8080           # Serve on another port
  trafficlight serve --default-locale de_DE`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addServeFlags(serveCmd)
}

// addServeFlags registers the flags shared by serve and dev.
func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 5000, "Port to serve on")
	cmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	cmd.Flags().String("default-locale", "en_US", "Locale served at /")
}

var serveBindings = map[string]string{
	"port":           "server.port",
	"host":           "server.host",
	"default-locale": "server.default_locale",
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, serveBindings)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveOutputs(ctx, cfg, nil, logger)
}

// serveOutputs runs the file server until ctx is cancelled.
func serveOutputs(ctx context.Context, cfg *config.Config, recorder metrics.Recorder, logger logging.Logger) error {
	return server.New(cfg, recorder, logger).Start(ctx)
}
