package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buildErrors "github.com/conneroisu/trafficlight/internal/errors"
	"github.com/conneroisu/trafficlight/internal/history"
	"github.com/conneroisu/trafficlight/internal/i18n"
	"github.com/conneroisu/trafficlight/internal/metrics"
	"github.com/conneroisu/trafficlight/internal/renderer"
	"github.com/conneroisu/trafficlight/internal/testutils"
)

type fakeStyles struct {
	css   []byte
	err   error
	delay time.Duration

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeStyles) Compile(ctx context.Context) ([]byte, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(f.delay)

	return f.css, f.err
}

type fakeConverter struct {
	mu     sync.Mutex
	failOn string
	inputs []string
}

func (f *fakeConverter) Convert(_ context.Context, htmlPath, pdfPath string) error {
	f.mu.Lock()
	f.inputs = append(f.inputs, filepath.Base(htmlPath))
	f.mu.Unlock()

	if f.failOn != "" && strings.Contains(filepath.Base(htmlPath), f.failOn) {
		// a partial file must not survive a failure
		_ = os.WriteFile(pdfPath, []byte("%PDF-partial"), 0o644)
		return errors.New("converter exited with status 1")
	}

	return os.WriteFile(pdfPath, []byte("%PDF-1.4 "+filepath.Base(htmlPath)), 0o644)
}

func (f *fakeConverter) Close() error { return nil }

type memoryHistory struct {
	mu      sync.Mutex
	records []history.Record
	ctxErr  error
}

func (m *memoryHistory) Append(ctx context.Context, rec history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	m.records = append(m.records, rec)
	return nil
}

type countingRecorder struct {
	metrics.NoopRecorder

	mu       sync.Mutex
	outcomes map[metrics.OutcomeLabel]int
	stages   map[string]metrics.ResultLabel
	pages    int
	docs     int
}

func (c *countingRecorder) IncBuildOutcome(outcome metrics.OutcomeLabel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[metrics.OutcomeLabel]int{}
	}
	c.outcomes[outcome]++
}

func (c *countingRecorder) IncStageResult(stage string, result metrics.ResultLabel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stages == nil {
		c.stages = map[string]metrics.ResultLabel{}
	}
	c.stages[stage] = result
}

func (c *countingRecorder) SetArtifacts(pages, documents int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages, c.docs = pages, documents
}

type fixture struct {
	project   *testutils.Project
	styles    *fakeStyles
	converter *fakeConverter
	history   *memoryHistory
	recorder  *countingRecorder
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := testutils.CreateTempProject(t)
	f := &fixture{
		project:   p,
		styles:    &fakeStyles{css: []byte("body{color:red}")},
		converter: &fakeConverter{},
		history:   &memoryHistory{},
		recorder:  &countingRecorder{},
	}
	f.rebuildPipeline()

	return f
}

// rebuildPipeline applies configuration changes made after newFixture.
func (f *fixture) rebuildPipeline() {
	cfg := f.project.Config
	f.pipeline = NewPipeline(cfg, Deps{
		Styles:    f.styles,
		Localizer: i18n.NewManager(cfg.Inputs.Locales, cfg.Inputs.Templates, cfg.Localization.Domain, nil),
		Renderer:  renderer.New(cfg.Inputs.Templates, nil),
		Converter: f.converter,
		Recorder:  f.recorder,
		History:   f.history,
	})
}

func TestProcessProducesAllOutputs(t *testing.T) {
	f := newFixture(t)

	report, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, report.Outcome)
	assert.Empty(t, report.Failures)
	assert.NotEmpty(t, report.BuildID)
	assert.Equal(t, []i18n.Locale{"de_DE", "en_US"}, report.Locales)

	assert.Regexp(t, `^main\.[A-Z0-9]{12}\.css$`, report.Stylesheet)
	assert.Equal(t, "assets/css/"+report.Stylesheet, report.CSSPath)
	assert.Equal(t, "body{color:red}", f.project.ReadFile(t, "dist/assets/css/"+report.Stylesheet))
	assert.Equal(t, "<svg/>", f.project.ReadFile(t, "dist/assets/img/logo.svg"))

	assert.Equal(t, []string{
		f.project.Path("dist/report_de_DE.html"),
		f.project.Path("dist/report_en_US.html"),
	}, report.Pages)

	html := f.project.ReadFile(t, "dist/report_en_US.html")
	assert.Contains(t, html, `<html lang="en_US">`)
	assert.Contains(t, html, `href="`+report.CSSPath+`"`)
	assert.Contains(t, html, "Patient at risk")
	assert.Contains(t, html, `<li class="red">Heart</li>`)
	assert.Contains(t, html, `<li class="blue">Lungs</li>`)

	docs := f.project.Glob(t, "pdf/*.pdf")
	require.Len(t, docs, 2)
	assert.Regexp(t, `^pdf/report_de_DE-[A-Z0-9]{5}\.pdf$`, docs[0])
	assert.Regexp(t, `^pdf/report_en_US-[A-Z0-9]{5}\.pdf$`, docs[1])
	assert.Len(t, report.Documents, 2)

	require.NotNil(t, report.Localization)
	assert.Equal(t, 2, report.Localization.Messages)
	assert.FileExists(t, filepath.Join(f.project.Config.Inputs.Locales, "messages.pot.yaml"))
}

func TestProcessUsesTranslations(t *testing.T) {
	f := newFixture(t)
	cfg := f.project.Config
	m := i18n.NewManager(cfg.Inputs.Locales, cfg.Inputs.Templates, cfg.Localization.Domain, nil)

	_, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	f.project.WriteFile(t, mustRel(t, f.project.Root, m.CatalogPath("de_DE")), `locale: de_DE
messages:
  - id: Patient report
    translation: Patientenbericht
`)

	_, err = f.pipeline.Process(context.Background())
	require.NoError(t, err)

	assert.Contains(t, f.project.ReadFile(t, "dist/report_de_DE.html"), "Patientenbericht")
	assert.Contains(t, f.project.ReadFile(t, "dist/report_en_US.html"), "Patient report")
}

func TestProcessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.Process(ctx)
	require.NoError(t, err)
	firstHTML := strings.ReplaceAll(f.project.ReadFile(t, "dist/report_en_US.html"), first.Stylesheet, "main.css")

	second, err := f.pipeline.Process(ctx)
	require.NoError(t, err)
	secondHTML := strings.ReplaceAll(f.project.ReadFile(t, "dist/report_en_US.html"), second.Stylesheet, "main.css")

	assert.Equal(t, firstHTML, secondHTML)
	assert.Equal(t, []string{"dist/assets/css/" + second.Stylesheet}, f.project.Glob(t, "dist/assets/css/*.css"))
	assert.Len(t, f.project.Glob(t, "pdf/*.pdf"), 2)
}

func TestProcessMalformedData(t *testing.T) {
	f := newFixture(t)
	f.project.WriteFile(t, "data/report.json", `{"risks": [`)

	report, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDegraded, report.Outcome)
	assert.Equal(t, 2, report.Count(buildErrors.KindData))
	assert.Zero(t, report.Count(buildErrors.KindStage))

	html := f.project.ReadFile(t, "dist/report_en_US.html")
	assert.Contains(t, html, "Patient report")
	assert.NotContains(t, html, "Patient at risk")
	assert.Contains(t, html, "<ul></ul>")

	for _, failure := range report.Failures {
		assert.Contains(t, failure.Message, "report.json")
		assert.NotEmpty(t, failure.Locale)
	}
}

func TestProcessRenderFailureWritesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.project.WriteFile(t, "templates/broken.html", `<p>{{ dot_color .label }}</p>`)
	f.project.WriteFile(t, "data/broken.json", `{"label": "high"}`)

	report, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDegraded, report.Outcome)
	assert.Equal(t, 2, report.Count(buildErrors.KindStage))

	for _, locale := range []string{"de_DE", "en_US"} {
		assert.Equal(t, "ERROR HAPPENED", f.project.ReadFile(t, "dist/broken_"+locale+".html"))
		assert.Contains(t, f.project.ReadFile(t, "dist/report_"+locale+".html"), "Patient report")
	}

	for _, failure := range report.Failures {
		assert.Equal(t, buildErrors.StageRender, failure.Stage)
		assert.Equal(t, f.project.Path("templates/broken.html"), failure.Path)
	}

	// placeholders are converted like any other page
	assert.Len(t, report.Documents, 4)
}

func TestProcessTemplateSyntaxErrorIsolatesPage(t *testing.T) {
	f := newFixture(t)
	broken := f.project.WriteFile(t, "templates/broken.html", `<p>{{ if .x }}unterminated</p>`)
	f.project.WriteFile(t, "data/broken.json", `{}`)

	report, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDegraded, report.Outcome)
	assert.Zero(t, report.Count(buildErrors.KindFatal))
	assert.Equal(t, metrics.ResultDegraded, f.recorder.stages[string(buildErrors.StageLocalization)])

	var localization, render int
	for _, failure := range report.Failures {
		assert.Equal(t, broken, failure.Path)
		switch failure.Stage {
		case buildErrors.StageLocalization:
			localization++
		case buildErrors.StageRender:
			render++
		}
	}
	assert.Equal(t, 1, localization)
	assert.Equal(t, 2, render)

	for _, locale := range []string{"de_DE", "en_US"} {
		assert.Equal(t, "ERROR HAPPENED", f.project.ReadFile(t, "dist/broken_"+locale+".html"))
		assert.Contains(t, f.project.ReadFile(t, "dist/report_"+locale+".html"), "Patient report")
	}
	assert.Len(t, report.Documents, 4)

	// the other templates still feed the catalogs
	require.NotNil(t, report.Localization)
	assert.Equal(t, 2, report.Localization.Messages)
}

func TestProcessMalformedCatalogKeepsCompiledTranslations(t *testing.T) {
	f := newFixture(t)
	cfg := f.project.Config
	m := i18n.NewManager(cfg.Inputs.Locales, cfg.Inputs.Templates, cfg.Localization.Domain, nil)
	catalog := mustRel(t, f.project.Root, m.CatalogPath("de_DE"))

	f.project.WriteFile(t, catalog, `locale: de_DE
messages:
  - id: Patient report
    translation: Patientenbericht
`)
	_, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	f.project.WriteFile(t, catalog, "locale: de_DE\nmessages:\n  - id: \"Patient report\n")

	report, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDegraded, report.Outcome)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, buildErrors.StageLocalization, report.Failures[0].Stage)
	assert.Equal(t, buildErrors.KindStage, report.Failures[0].Kind)
	assert.Equal(t, m.CatalogPath("de_DE"), report.Failures[0].Path)

	require.NotNil(t, report.Localization)
	require.Len(t, report.Localization.Locales, 1)
	assert.Equal(t, i18n.Locale("en_US"), report.Localization.Locales[0].Locale)

	assert.Len(t, report.Pages, 2)
	assert.Len(t, report.Documents, 2)
	assert.Contains(t, f.project.ReadFile(t, "dist/report_de_DE.html"), "Patientenbericht")
	assert.Contains(t, f.project.ReadFile(t, "dist/report_en_US.html"), "Patient report")

	// the broken catalog is left for the translator to fix
	assert.Contains(t, f.project.ReadFile(t, catalog), `"Patient report`)
}

func TestProcessStyleFailureKeepsStylesheetPath(t *testing.T) {
	f := newFixture(t)
	f.styles.err = errors.New("sass: undefined variable")

	report, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDegraded, report.Outcome)
	assert.Equal(t, 1, report.Count(buildErrors.KindStage))
	assert.Empty(t, f.project.Glob(t, "dist/assets/css/*.css"))
	assert.Contains(t, f.project.ReadFile(t, "dist/report_en_US.html"), report.CSSPath)
	assert.Equal(t, metrics.ResultDegraded, f.recorder.stages[string(buildErrors.StageStyles)])
}

func TestProcessSkipsFailedDocuments(t *testing.T) {
	f := newFixture(t)
	f.converter.failOn = "de_DE"

	report, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDegraded, report.Outcome)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, buildErrors.StagePDF, report.Failures[0].Stage)

	docs := f.project.Glob(t, "pdf/*.pdf")
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0], "report_en_US-")
	assert.Equal(t, []string{"report_de_DE.html", "report_en_US.html"}, f.converter.inputs)
}

func TestProcessFatalInitialize(t *testing.T) {
	f := newFixture(t)
	f.project.WriteFile(t, "blocker", "not a directory")
	f.project.Config.Outputs.HTML = f.project.Path("blocker/dist")
	f.rebuildPipeline()

	report, err := f.pipeline.Process(context.Background())
	require.Error(t, err)
	assert.True(t, buildErrors.IsFatal(err))

	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, 1, report.Count(buildErrors.KindFatal))
	assert.Zero(t, f.styles.calls.Load())
	assert.Empty(t, report.Pages)
	assert.Equal(t, 1, f.recorder.outcomes[metrics.OutcomeFailed])
}

func TestProcessMissingAssetsDirectory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(f.project.Config.Inputs.Assets))

	report, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, report.Outcome)
	assert.DirExists(t, f.project.Path("dist/assets/css"))
}

func TestProcessAtomicPublish(t *testing.T) {
	f := newFixture(t)
	f.project.Config.Build.AtomicPublish = true
	f.rebuildPipeline()
	f.project.WriteFile(t, "dist/stale.html", "old")

	report, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, report.Outcome)
	assert.NoFileExists(t, f.project.Path("dist/stale.html"))
	assert.NoDirExists(t, f.project.Path("dist"+StagingSuffix))
	assert.NoDirExists(t, f.project.Path("pdf"+StagingSuffix))
	assert.NoDirExists(t, f.project.Path("dist.old"))

	for _, page := range report.Pages {
		assert.FileExists(t, page)
		assert.Equal(t, f.project.Path("dist"), filepath.Dir(page))
	}
	for _, doc := range report.Documents {
		assert.FileExists(t, doc)
		assert.Equal(t, f.project.Path("pdf"), filepath.Dir(doc))
	}
}

func TestProcessCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.pipeline.Process(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Zero(t, f.styles.calls.Load())

	require.Len(t, f.history.records, 1)
	assert.NoError(t, f.history.ctxErr)
	assert.Equal(t, "failed", f.history.records[0].Outcome)
}

func TestProcessHooks(t *testing.T) {
	f := newFixture(t)

	var reports []*Report
	f.pipeline.AddCallback(func(r *Report) {
		reports = append(reports, r)
	})

	report, err := f.pipeline.Process(context.Background())
	require.NoError(t, err)

	require.Len(t, reports, 1)
	assert.Same(t, report, reports[0])

	require.Len(t, f.history.records, 1)
	rec := f.history.records[0]
	assert.Equal(t, report.BuildID, rec.BuildID)
	assert.Equal(t, "success", rec.Outcome)
	assert.Equal(t, 2, rec.Pages)
	assert.Equal(t, 2, rec.Documents)

	assert.Equal(t, 1, f.recorder.outcomes[metrics.OutcomeSuccess])
	assert.Equal(t, 2, f.recorder.pages)
	assert.Equal(t, 2, f.recorder.docs)
	for _, s := range []buildErrors.Stage{
		buildErrors.StageInitialize,
		buildErrors.StageStyles,
		buildErrors.StageLocalization,
		buildErrors.StageRender,
		buildErrors.StagePDF,
	} {
		assert.Equal(t, metrics.ResultSuccess, f.recorder.stages[string(s)], "stage %s", s)
	}

	snapshot := f.pipeline.Metrics()
	assert.Equal(t, int64(1), snapshot.TotalBuilds)
	assert.Equal(t, int64(1), snapshot.SuccessfulBuilds)
}

func TestProcessSerializesBuilds(t *testing.T) {
	f := newFixture(t)
	f.styles.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Process(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), f.styles.calls.Load())
	assert.Equal(t, int32(1), f.styles.maxSeen.Load())
	assert.Equal(t, int64(3), f.pipeline.Metrics().TotalBuilds)
}

func mustRel(t *testing.T, base, target string) string {
	t.Helper()
	rel, err := filepath.Rel(base, target)
	require.NoError(t, err)
	return filepath.ToSlash(rel)
}
