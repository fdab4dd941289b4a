package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/conneroisu/trafficlight/internal/build"
	"github.com/conneroisu/trafficlight/internal/config"
	"github.com/conneroisu/trafficlight/internal/history"
	"github.com/conneroisu/trafficlight/internal/i18n"
	"github.com/conneroisu/trafficlight/internal/logging"
	"github.com/conneroisu/trafficlight/internal/metrics"
	"github.com/conneroisu/trafficlight/internal/pdf"
	"github.com/conneroisu/trafficlight/internal/renderer"
	"github.com/conneroisu/trafficlight/internal/runner"
	"github.com/conneroisu/trafficlight/internal/styles"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	i18n     *i18n.Manager
	pipeline *build.Pipeline

	registry  *prometheus.Registry
	recorder  metrics.Recorder
	converter pdf.Converter
	history   *history.Store
}

// newApp wires the build pipeline for cfg.
func newApp(cmd *cobra.Command, cfg *config.Config) (*app, error) {
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
	}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.recorder = metrics.NewPrometheusRecorder(a.registry)
	}

	tools := runner.New(cfg.Build.ToolTimeout)

	a.converter, err = pdf.New(pdf.Options{
		Engine:  cfg.PDF.Engine,
		Command: cfg.PDF.Command,
		Args:    cfg.PDF.Args,
		Zoom:    cfg.PDF.Zoom,
		Browser: cfg.PDF.Browser,
	}, tools, logger)
	if err != nil {
		return nil, err
	}

	deps := build.Deps{
		Styles: styles.NewSassCompiler(styles.Options{
			Dir:         cfg.Inputs.Styles,
			Entry:       cfg.Styles.Entry,
			Command:     cfg.Styles.Command,
			Args:        cfg.Styles.Args,
			OutputStyle: cfg.Styles.OutputStyle,
		}, tools, logger),
		Renderer:  renderer.New(cfg.Inputs.Templates, logger),
		Converter: a.converter,
		Recorder:  a.recorder,
		Logger:    logger,
	}

	a.i18n = i18n.NewManager(cfg.Inputs.Locales, cfg.Inputs.Templates, cfg.Localization.Domain, logger)
	deps.Localizer = a.i18n

	if cfg.History.Enabled {
		a.history, err = history.Open(cfg.History.Path)
		if err != nil {
			_ = a.converter.Close()
			return nil, err
		}
		deps.History = a.history
	}

	a.pipeline = build.NewPipeline(cfg, deps)

	return a, nil
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled. It
// returns immediately when metrics are disabled.
func (a *app) serveMetrics(ctx context.Context) error {
	if a.registry == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(a.registry))

	server := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	a.logger.Info(ctx, "Serving metrics", "addr", a.cfg.Metrics.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server error: %w", err)
	}

	return nil
}

// Close releases the converter and the history store.
func (a *app) Close() error {
	var errs []error
	if err := a.converter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing pdf converter: %w", err))
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing history: %w", err))
		}
	}

	return errors.Join(errs...)
}
