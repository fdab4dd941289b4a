// Package testutils builds throwaway projects for tests: the source
// directories, a sample page with its data file, locale directories and a
// configuration pointing at all of them.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/trafficlight/internal/config"
)

// ReportTemplate is a page using every template function.
const ReportTemplate = `<!DOCTYPE html>
<html lang="{{ .locale }}">
<head><link rel="stylesheet" href="{{ .css_path }}"></head>
<body>
<h1>{{ gettext "Patient report" }}</h1>
{{ if check_patient_risk .risks }}<p class="alert">{{ _ "Patient at risk" }}</p>{{ end }}
<ul>{{ range .risks }}<li class="{{ dot_color .value }}">{{ .name }}</li>{{ end }}</ul>
</body>
</html>
`

// ReportData feeds ReportTemplate.
const ReportData = `{"risks": [{"name": "Heart", "value": 12.5}, {"name": "Lungs", "value": 70}]}`

// Project is a temporary project directory.
type Project struct {
	Root   string
	Config *config.Config
}

// CreateTempProject creates a project with the standard layout, one report
// page, two locales and a stylesheet entry point.
func CreateTempProject(t *testing.T) *Project {
	t.Helper()

	root := t.TempDir()
	cfg := CreateTestConfig(root)

	for _, dir := range []string{
		cfg.Inputs.Templates,
		cfg.Inputs.Data,
		cfg.Inputs.Assets,
		cfg.Inputs.Styles,
		filepath.Join(cfg.Inputs.Locales, "en_US"),
		filepath.Join(cfg.Inputs.Locales, "de_DE"),
	} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	p := &Project{Root: root, Config: cfg}
	p.WriteFile(t, "templates/report.html", ReportTemplate)
	p.WriteFile(t, "data/report.json", ReportData)
	p.WriteFile(t, "sass/main.scss", "$c: red;\nbody { color: $c; }\n")
	p.WriteFile(t, "assets/img/logo.svg", "<svg/>")

	return p
}

// CreateTestConfig returns the default configuration with every input and
// output directory placed inside projectDir.
func CreateTestConfig(projectDir string) *config.Config {
	cfg := config.Default()

	cfg.Inputs.Templates = filepath.Join(projectDir, "templates")
	cfg.Inputs.Data = filepath.Join(projectDir, "data")
	cfg.Inputs.Assets = filepath.Join(projectDir, "assets")
	cfg.Inputs.Styles = filepath.Join(projectDir, "sass")
	cfg.Inputs.Locales = filepath.Join(projectDir, "i18n")
	cfg.Outputs.HTML = filepath.Join(projectDir, "dist")
	cfg.Outputs.PDF = filepath.Join(projectDir, "pdf")
	cfg.History.Path = filepath.Join(projectDir, ".trafficlight", "history.db")

	return cfg
}

// Path returns the absolute path of rel inside the project.
func (p *Project) Path(rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

// WriteFile writes content to rel inside the project, creating directories.
func (p *Project) WriteFile(t *testing.T, rel, content string) string {
	t.Helper()

	path := p.Path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

// ReadFile returns the content of rel inside the project.
func (p *Project) ReadFile(t *testing.T, rel string) string {
	t.Helper()

	data, err := os.ReadFile(p.Path(rel))
	require.NoError(t, err)

	return string(data)
}

// Glob returns the project files matching pattern, relative to the root.
func (p *Project) Glob(t *testing.T, pattern string) []string {
	t.Helper()

	matches, err := filepath.Glob(p.Path(pattern))
	require.NoError(t, err)

	for i, m := range matches {
		rel, err := filepath.Rel(p.Root, m)
		require.NoError(t, err)
		matches[i] = filepath.ToSlash(rel)
	}

	return matches
}

// WaitFor polls cond until it holds or timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v", timeout)
}

// WaitForFileChange waits for a file to be modified (useful for testing file watchers)
func WaitForFileChange(
	t *testing.T,
	filePath string,
	originalModTime time.Time,
	timeout time.Duration,
) {
	t.Helper()

	WaitFor(t, timeout, func() bool {
		info, err := os.Stat(filePath)
		return err == nil && info.ModTime().After(originalModTime)
	})
}
