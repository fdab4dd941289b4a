// Package build runs the document build: a fixed sequence of stages that
// turns the style sources, templates, data files and locale catalogs into
// rendered HTML pages and their PDF documents.
//
// Stages run in order and never branch. A failing stage records a failure
// and the build moves on with degraded output; only filesystem failures
// and cancellation abort the build.
package build

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/trafficlight/internal/config"
	buildErrors "github.com/conneroisu/trafficlight/internal/errors"
	"github.com/conneroisu/trafficlight/internal/history"
	"github.com/conneroisu/trafficlight/internal/i18n"
	"github.com/conneroisu/trafficlight/internal/logging"
	"github.com/conneroisu/trafficlight/internal/metrics"
	"github.com/conneroisu/trafficlight/internal/pdf"
	"github.com/conneroisu/trafficlight/internal/renderer"
	"github.com/conneroisu/trafficlight/internal/styles"
)

// Localizer keeps the locale catalogs current and hands out translators.
type Localizer interface {
	Refresh(ctx context.Context) (*i18n.RefreshReport, error)
	Locales() ([]i18n.Locale, error)
	Translator(locale i18n.Locale) (*i18n.Translator, error)
}

// PageRenderer renders one page for one locale.
type PageRenderer interface {
	Render(ctx context.Context, page renderer.PageSpec, rc renderer.Context) ([]byte, error)
}

// HistorySink stores finished builds.
type HistorySink interface {
	Append(ctx context.Context, rec history.Record) error
}

// BuildCallback is called when a build completes
type BuildCallback func(report *Report)

// Deps are the collaborators of a pipeline. Recorder, History and Logger are
// optional.
type Deps struct {
	Styles    styles.Compiler
	Localizer Localizer
	Renderer  PageRenderer
	Converter pdf.Converter
	Recorder  metrics.Recorder
	History   HistorySink
	Logger    logging.Logger
}

// Pipeline runs builds. At most one build runs at a time; a second caller
// of Process waits for the first to finish.
type Pipeline struct {
	cfg  *config.Config
	deps Deps

	logger    logging.Logger
	recorder  metrics.Recorder
	metrics   *BuildMetrics
	callbacks []BuildCallback

	mu  sync.Mutex
	now func() time.Time
}

// NewPipeline creates a pipeline for cfg.
func NewPipeline(cfg *config.Config, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.WithComponent("build"),
		recorder: recorder,
		metrics:  NewBuildMetrics(),
		now:      time.Now,
	}
}

// AddCallback registers a callback invoked after every build.
func (p *Pipeline) AddCallback(callback BuildCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, callback)
}

// Metrics returns a snapshot of the builds run so far.
func (p *Pipeline) Metrics() BuildMetrics {
	return p.metrics.GetSnapshot()
}

// run is the state of one build.
type run struct {
	ctx       context.Context
	report    *Report
	collector *buildErrors.Collector
	logger    logging.Logger

	htmlRoot string
	pdfRoot  string
}

func (r *run) fail(err *buildErrors.BuildError) {
	r.collector.Add(err)
}

type stage struct {
	name buildErrors.Stage
	run  func(*run) *buildErrors.BuildError
}

// Process runs one complete build. The returned error is non-nil only for a
// fatal failure; the report is returned in every case.
func (p *Pipeline) Process(ctx context.Context) (*Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := &Report{
		BuildID: uuid.NewString(),
		Started: p.now(),
	}
	r := &run{
		ctx:       ctx,
		report:    report,
		collector: buildErrors.NewCollector(),
		logger:    p.logger.With("build_id", report.BuildID),
		htmlRoot:  p.cfg.Outputs.HTML,
		pdfRoot:   p.cfg.Outputs.PDF,
	}
	if p.cfg.Build.AtomicPublish {
		r.htmlRoot += StagingSuffix
		r.pdfRoot += StagingSuffix
	}

	r.logger.Info(ctx, "Start process")

	stages := []stage{
		{buildErrors.StageInitialize, p.initialize},
		{buildErrors.StageStyles, p.compileStyles},
		{buildErrors.StageLocalization, p.refreshLocalization},
		{buildErrors.StageRender, p.renderPages},
		{buildErrors.StagePDF, p.makeDocuments},
	}
	if p.cfg.Build.AtomicPublish {
		stages = append(stages, stage{buildErrors.StagePublish, p.publish})
	}

	var fatal *buildErrors.BuildError
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			fatal = buildErrors.NewFatalError(s.name, "build cancelled", err)
			break
		}
		if fatal = p.runStage(r, s); fatal != nil {
			break
		}
	}

	return p.finish(r, fatal)
}

func (p *Pipeline) runStage(r *run, s stage) *buildErrors.BuildError {
	before := len(r.collector.Entries())
	timer := logging.StartOperation(r.logger, string(s.name))

	fatal := s.run(r)

	p.recorder.ObserveStageDuration(string(s.name), timer.End(r.ctx))

	switch {
	case fatal != nil:
		p.recorder.IncStageResult(string(s.name), metrics.ResultFatal)
	case len(r.collector.Entries()) > before:
		p.recorder.IncStageResult(string(s.name), metrics.ResultDegraded)
	default:
		p.recorder.IncStageResult(string(s.name), metrics.ResultSuccess)
	}

	return fatal
}

func (p *Pipeline) finish(r *run, fatal *buildErrors.BuildError) (*Report, error) {
	report := r.report
	report.Duration = p.now().Sub(report.Started)
	report.Failures = r.collector.Errors()

	switch {
	case fatal != nil:
		report.Outcome = OutcomeFailed
		report.Failures = append(report.Failures, fatal)
		r.logger.Error(r.ctx, fatal, "Build aborted", "stage", fatal.Stage)
	case len(report.Failures) > 0:
		report.Outcome = OutcomeDegraded
	default:
		report.Outcome = OutcomeSuccess
	}

	r.logger.Info(r.ctx, "Finished",
		"outcome", report.Outcome,
		"duration", report.Duration,
		"pages", len(report.Pages),
		"documents", len(report.Documents),
		"failures", len(report.Failures),
	)

	p.metrics.RecordBuild(report)
	p.recorder.ObserveBuildDuration(report.Duration)
	p.recorder.IncBuildOutcome(metrics.OutcomeLabel(report.Outcome))
	p.recorder.SetArtifacts(len(report.Pages), len(report.Documents))

	if p.deps.History != nil {
		// the build context may already be cancelled
		if err := p.deps.History.Append(context.WithoutCancel(r.ctx), report.Record()); err != nil {
			r.logger.Warn(r.ctx, err, "Recording build history failed")
		}
	}

	for _, callback := range p.callbacks {
		callback(report)
	}

	if fatal != nil {
		return report, fatal
	}

	return report, nil
}

// initialize empties both output roots and copies the static assets.
func (p *Pipeline) initialize(r *run) *buildErrors.BuildError {
	r.logger.Info(r.ctx, "Initializing")

	if err := resetDir(r.htmlRoot); err != nil {
		return buildErrors.NewFatalError(buildErrors.StageInitialize, "resetting HTML output", err).WithPath(r.htmlRoot)
	}

	assets := filepath.Join(r.htmlRoot, p.cfg.Outputs.Assets)
	if err := copyTree(p.cfg.Inputs.Assets, assets); err != nil {
		return buildErrors.NewFatalError(buildErrors.StageInitialize, "copying assets", err).WithPath(p.cfg.Inputs.Assets)
	}

	if err := os.MkdirAll(filepath.Join(r.htmlRoot, p.cfg.Outputs.CSSDir()), 0o755); err != nil {
		return buildErrors.NewFatalError(buildErrors.StageInitialize, "creating stylesheet directory", err)
	}

	if err := resetDir(r.pdfRoot); err != nil {
		return buildErrors.NewFatalError(buildErrors.StageInitialize, "resetting PDF output", err).WithPath(r.pdfRoot)
	}

	return nil
}

// compileStyles writes main.<suffix>.css. The name is chosen before
// compiling, so pages reference it even when compiling fails.
func (p *Pipeline) compileStyles(r *run) *buildErrors.BuildError {
	r.logger.Info(r.ctx, "Recompiling styles")

	name := "main." + randString(stylesheetSuffixLen) + ".css"
	r.report.Stylesheet = name
	r.report.CSSPath = path.Join(p.cfg.Outputs.Assets, p.cfg.Outputs.CSS, name)

	css, err := p.deps.Styles.Compile(r.ctx)
	if err != nil {
		failure := buildErrors.NewStageError(buildErrors.StageStyles, "style compilation failed", err)
		r.logger.Warn(r.ctx, failure, "Style compilation failed")
		r.fail(failure)
		return nil
	}

	target := filepath.Join(r.htmlRoot, p.cfg.Outputs.CSSDir(), name)
	if err := os.WriteFile(target, css, 0o644); err != nil {
		failure := buildErrors.NewStageError(buildErrors.StageStyles, "writing stylesheet", err).WithPath(target)
		r.logger.Warn(r.ctx, failure, "Writing stylesheet failed")
		r.fail(failure)
	}

	return nil
}

// refreshLocalization updates the catalogs. Templates and catalogs that do
// not parse are stage failures; the affected pages render with whatever
// compiled catalog is already there.
func (p *Pipeline) refreshLocalization(r *run) *buildErrors.BuildError {
	report, err := p.deps.Localizer.Refresh(r.ctx)
	if err != nil {
		return buildErrors.NewFatalError(buildErrors.StageLocalization, "refreshing localization", err)
	}
	r.report.Localization = report

	for _, skipped := range report.Skipped {
		failure := buildErrors.NewStageError(buildErrors.StageLocalization, "skipped malformed source", skipped).WithPath(skipped.Path)
		r.logger.Warn(r.ctx, failure, "Localization source skipped", "path", skipped.Path)
		r.fail(failure)
	}

	return nil
}

// renderPages renders every page for every locale. A page that fails to
// render is written with the placeholder text.
func (p *Pipeline) renderPages(r *run) *buildErrors.BuildError {
	locales, err := p.deps.Localizer.Locales()
	if err != nil {
		return buildErrors.NewFatalError(buildErrors.StageRender, "listing locales", err)
	}
	r.report.Locales = locales

	pages, err := renderer.DiscoverPages(p.cfg.Inputs.Templates, p.cfg.Inputs.Data)
	if err != nil {
		return buildErrors.NewFatalError(buildErrors.StageRender, "listing templates", err)
	}

	for _, locale := range locales {
		translator, err := p.deps.Localizer.Translator(locale)
		if err != nil {
			failure := buildErrors.NewStageError(buildErrors.StageRender, "loading translations", err).WithLocale(string(locale))
			r.logger.Warn(r.ctx, failure, "Rendering untranslated", "locale", locale)
			r.fail(failure)
		}

		for _, page := range pages {
			if err := r.ctx.Err(); err != nil {
				return buildErrors.NewFatalError(buildErrors.StageRender, "build cancelled", err)
			}
			if fatal := p.renderPage(r, page, locale, translator); fatal != nil {
				return fatal
			}
		}
	}

	return nil
}

func (p *Pipeline) renderPage(r *run, page renderer.PageSpec, locale i18n.Locale, translator *i18n.Translator) *buildErrors.BuildError {
	r.logger.Info(r.ctx, "Compiling page to HTML", "template", page.Template, "locale", locale)

	data, failure := renderer.LoadData(page.DataPath)
	if failure != nil {
		failure.WithLocale(string(locale))
		r.logger.Warn(r.ctx, failure.Cause, failure.Message, "locale", locale)
		r.fail(failure)
	}

	out, err := p.deps.Renderer.Render(r.ctx, page, renderer.Context{
		Locale:     locale,
		Translator: translator,
		Data:       data,
		CSSPath:    r.report.CSSPath,
	})
	if err != nil {
		failure := asStageError(err, buildErrors.StageRender).WithPath(page.Template).WithLocale(string(locale))
		r.logger.Warn(r.ctx, failure, "Render error. Check template", "template", page.Template)
		r.fail(failure)
		out = []byte(p.cfg.Build.Placeholder)
	}

	target := filepath.Join(r.htmlRoot, page.OutputName(locale))
	if err := os.WriteFile(target, out, 0o644); err != nil {
		return buildErrors.NewFatalError(buildErrors.StageRender, "writing page", err).WithPath(target)
	}
	r.report.Pages = append(r.report.Pages, target)
	r.logger.Debug(r.ctx, "Compiled and saved", "path", target)

	return nil
}

// makeDocuments converts every HTML file of the output root into a PDF
// named <page>_<locale>-<suffix>.pdf.
func (p *Pipeline) makeDocuments(r *run) *buildErrors.BuildError {
	r.logger.Info(r.ctx, "Generating PDFs")

	files, err := listFiles(r.htmlRoot, i18n.TemplateExt)
	if err != nil {
		return buildErrors.NewFatalError(buildErrors.StagePDF, "listing rendered pages", err).WithPath(r.htmlRoot)
	}

	for _, file := range files {
		if err := r.ctx.Err(); err != nil {
			return buildErrors.NewFatalError(buildErrors.StagePDF, "build cancelled", err)
		}

		stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		target := filepath.Join(r.pdfRoot, stem+"-"+randString(documentSuffixLen)+".pdf")

		if err := p.deps.Converter.Convert(r.ctx, file, target); err != nil {
			failure := buildErrors.NewStageError(buildErrors.StagePDF, "PDF generation failed", err).WithPath(file)
			r.logger.Warn(r.ctx, failure, "PDF generation failed", "pdf", filepath.Base(target))
			r.fail(failure)
			_ = os.Remove(target)
			continue
		}
		r.report.Documents = append(r.report.Documents, target)
	}

	return nil
}

// publish swaps the staging roots into place and rewrites the report paths.
func (p *Pipeline) publish(r *run) *buildErrors.BuildError {
	pairs := [][2]string{
		{r.htmlRoot, p.cfg.Outputs.HTML},
		{r.pdfRoot, p.cfg.Outputs.PDF},
	}
	for _, pair := range pairs {
		if err := publish(pair[0], pair[1]); err != nil {
			return buildErrors.NewFatalError(buildErrors.StagePublish, "publishing output", err).WithPath(pair[1])
		}
	}

	r.report.Pages = rebase(r.report.Pages, r.htmlRoot, p.cfg.Outputs.HTML)
	r.report.Documents = rebase(r.report.Documents, r.pdfRoot, p.cfg.Outputs.PDF)
	r.htmlRoot, r.pdfRoot = p.cfg.Outputs.HTML, p.cfg.Outputs.PDF
	r.logger.Debug(r.ctx, "Output published")

	return nil
}

func rebase(paths []string, from, to string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		rel, err := filepath.Rel(from, p)
		if err != nil {
			out[i] = p
			continue
		}
		out[i] = filepath.Join(to, rel)
	}

	return out
}

// asStageError keeps a BuildError produced by a collaborator and wraps
// anything else.
func asStageError(err error, stage buildErrors.Stage) *buildErrors.BuildError {
	var be *buildErrors.BuildError
	if errors.As(err, &be) {
		return be
	}

	return buildErrors.NewStageError(stage, "render failed", err)
}
