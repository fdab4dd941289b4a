package cmd

import (
	"fmt"
	"maps"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var devCmd = &cobra.Command{
	Use:     "dev",
	Aliases: []string{"d"},
	Short:   "Watch and serve in one process",
	Long: `Run the watcher and the file server side by side. The server keeps
answering from the output directories while builds run, so a request during
a build may see a partial result unless build.atomic_publish is set.

Examples:
  trafficlight dev                         # Watch and serve with config defaults
  trafficlight dev --mode debounce --port 8080`,
	RunE: runDev,
}

func init() {
	rootCmd.AddCommand(devCmd)

	addWatchFlags(devCmd)
	addServeFlags(devCmd)
}

func runDev(cmd *cobra.Command, args []string) error {
	bindings := make(map[string]string, len(watchBindings)+len(serveBindings))
	maps.Copy(bindings, watchBindings)
	maps.Copy(bindings, serveBindings)

	cfg, err := loadConfig(cmd, bindings)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a, err := newApp(cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watchAndBuild(ctx, a, !watchNoInitial)
	})
	g.Go(func() error {
		return serveOutputs(ctx, cfg, a.recorder, a.logger)
	})
	g.Go(func() error {
		return a.serveMetrics(ctx)
	})

	return g.Wait()
}
