package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/trafficlight/internal/build"
	"github.com/conneroisu/trafficlight/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Rebuild whenever a source file changes",
	Long: `Run an initial build, then watch the templates, data, styles, assets and
catalogs and rebuild after changes.

The gate decides when a change triggers a build. In throttle mode the first
change triggers immediately and changes within the quiet interval after a
triggered build are ignored. In debounce mode a build starts once no change
arrived for the quiet interval.

Examples:
  trafficlight watch                       # Throttle with the configured interval
  trafficlight watch --mode debounce       # Wait for editors to settle
  trafficlight watch --quiet 2s            # Shorter quiet interval
  trafficlight watch --rebuild-every 10m   # Also rebuild periodically`,
	RunE: runWatch,
}

var watchNoInitial bool

func init() {
	rootCmd.AddCommand(watchCmd)

	addWatchFlags(watchCmd)
}

// addWatchFlags registers the flags shared by watch and dev.
func addWatchFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "throttle", "Rebuild gate (throttle, debounce)")
	cmd.Flags().Duration("quiet", 0, "Quiet interval of the gate (default from config)")
	cmd.Flags().Duration("rebuild-every", 0, "Also run a full rebuild at this interval")
	cmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "Skip the initial build")
}

var watchBindings = map[string]string{
	"mode":          "watch.mode",
	"quiet":         "watch.quiet",
	"rebuild-every": "watch.rebuild_every",
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, watchBindings)
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

	go func() {
		if err := a.serveMetrics(ctx); err != nil {
			a.logger.Error(ctx, err, "Metrics server stopped")
		}
	}()

	return watchAndBuild(ctx, a, !watchNoInitial)
}

// watchAndBuild runs the optional initial build and then rebuilds on change
// until ctx is cancelled.
func watchAndBuild(ctx context.Context, a *app, initial bool) error {
	cfg := a.cfg

	gate, err := watcher.NewGate(cfg.Watch.Mode, cfg.Watch.Quiet)
	if err != nil {
		return err
	}

	fw, err := watcher.NewFileWatcher(gate, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// catalogs rewritten by a build must not trigger the next one
	writes := watcher.NewWriteLog()
	a.pipeline.AddCallback(func(report *build.Report) {
		if report.Localization != nil {
			writes.Record(report.Localization.Written...)
		}
	})
	a.pipeline.AddCallback(func(*build.Report) {
		logSession(ctx, a)
	})

	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoBackupFilter)
	fw.AddFilter(writes.Filter)
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		_, err := a.pipeline.Process(ctx)
		return err
	})

	// subscribed before the initial build, so edits made during it are seen
	for _, sub := range watcher.DefaultSubscriptions(cfg.Inputs) {
		if err := fw.Subscribe(sub); err != nil {
			return fmt.Errorf("failed to watch %s: %w", sub.Dir, err)
		}
	}

	if initial {
		if _, err := a.pipeline.Process(ctx); err != nil {
			a.logger.Error(ctx, err, "Initial build failed")
		}
	}

	if cfg.Watch.RebuildEvery > 0 {
		scheduler, err := build.NewScheduler(ctx, a.pipeline, cfg.Watch.RebuildEvery, a.logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() {
			if err := scheduler.Stop(); err != nil {
				a.logger.Warn(ctx, err, "Stopping scheduler failed")
			}
		}()
	}

	return fw.Run(ctx)
}

// logSession logs the totals of every build run since the watcher started.
func logSession(ctx context.Context, a *app) {
	m := a.pipeline.Metrics()
	a.logger.Info(ctx, "Session totals",
		"builds", m.TotalBuilds,
		"successful", m.SuccessfulBuilds,
		"degraded", m.DegradedBuilds,
		"failed", m.FailedBuilds,
		"success_rate", m.GetSuccessRate(),
		"average", m.AverageDuration,
	)
}
