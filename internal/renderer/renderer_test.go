package renderer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buildErrors "github.com/conneroisu/trafficlight/internal/errors"
	"github.com/conneroisu/trafficlight/internal/i18n"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDotColor(t *testing.T) {
	tests := []struct {
		value    interface{}
		expected string
	}{
		{0, "red"},
		{16.6, "red"},
		{16.7, "orange"},
		{33.3, "orange"},
		{33.4, "yellow"},
		{66.6, "yellow"},
		{66.7, "blue"},
		{100, "blue"},
		{-5, "red"},
		{"50", "yellow"},
		{json.Number("70"), "blue"},
	}

	for _, tt := range tests {
		color, err := DotColor(tt.value)
		require.NoError(t, err, "value %v", tt.value)
		assert.Equal(t, tt.expected, color, "value %v", tt.value)
	}
}

func TestDotColorRejectsNonNumeric(t *testing.T) {
	_, err := DotColor("high")
	assert.Error(t, err)

	_, err = DotColor([]int{1})
	assert.Error(t, err)
}

func TestCheckPatientRisk(t *testing.T) {
	tests := []struct {
		name     string
		risks    interface{}
		expected bool
	}{
		{"below threshold", []interface{}{map[string]interface{}{"value": 24.0}}, true},
		{"at threshold", []interface{}{map[string]interface{}{"value": 25.0}}, false},
		{"int value", []map[string]int{{"value": 3}}, true},
		{"one of many", []interface{}{
			map[string]interface{}{"value": 80.0},
			map[string]interface{}{"value": 10.0},
		}, true},
		{"not a list", 42, false},
		{"nil", nil, false},
		{"string", "abc", false},
		{"map of risks", map[string]interface{}{"heart": map[string]interface{}{"value": 1.0}}, false},
		{"empty list", []interface{}{}, false},
		{"entry without value", []interface{}{map[string]interface{}{"name": "x"}}, false},
		{"non-numeric value", []interface{}{map[string]interface{}{"value": "3"}}, false},
		{"non-map entry", []interface{}{3, nil}, false},
		{"array", [1]map[string]float64{{"value": 1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CheckPatientRisk(tt.risks))
		})
	}
}

func TestDiscoverPages(t *testing.T) {
	root := t.TempDir()
	templates := filepath.Join(root, "templates")
	writeFile(t, filepath.Join(templates, "summary.html"), "")
	writeFile(t, filepath.Join(templates, "report.html"), "")
	writeFile(t, filepath.Join(templates, "readme.txt"), "")
	writeFile(t, filepath.Join(templates, LayoutsDir, "base.html"), "")

	pages, err := DiscoverPages(templates, filepath.Join(root, "data"))
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, "report", pages[0].Name)
	assert.Equal(t, filepath.Join(root, "data", "report.json"), pages[0].DataPath)
	assert.Equal(t, "summary", pages[1].Name)
	assert.Equal(t, "report_en_US.html", pages[0].OutputName("en_US"))
}

func TestLoadData(t *testing.T) {
	dir := t.TempDir()

	t.Run("object", func(t *testing.T) {
		path := filepath.Join(dir, "report.json")
		writeFile(t, path, `{"patient": "Jane", "risks": [{"value": 10}]}`)

		data, failure := LoadData(path)
		assert.Nil(t, failure)
		assert.Equal(t, "Jane", data["patient"])
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		writeFile(t, path, `{"patient": `)

		data, failure := LoadData(path)
		require.NotNil(t, failure)
		assert.Empty(t, data)
		assert.Equal(t, buildErrors.KindData, failure.Kind)
		assert.Contains(t, failure.Error(), "Check JSON format of `broken.json` file")
	})

	t.Run("not an object", func(t *testing.T) {
		path := filepath.Join(dir, "list.json")
		writeFile(t, path, `[1, 2]`)

		data, failure := LoadData(path)
		require.NotNil(t, failure)
		assert.NotNil(t, data)
		assert.Empty(t, data)
	})

	t.Run("missing", func(t *testing.T) {
		data, failure := LoadData(filepath.Join(dir, "absent.json"))
		require.NotNil(t, failure)
		assert.Empty(t, data)
		assert.Equal(t, filepath.Join(dir, "absent.json"), failure.Path)
	})
}

func TestRender(t *testing.T) {
	root := t.TempDir()
	templates := filepath.Join(root, "templates")
	writeFile(t, filepath.Join(templates, LayoutsDir, "base.html"),
		`{{ define "base" }}<html lang="{{ .locale }}"><link href="{{ .css_path }}">{{ block "content" . }}default{{ end }}</html>{{ end }}`)
	writeFile(t, filepath.Join(templates, "report.html"), `{{ template "base" . }}
{{ define "content" }}<h1>{{ gettext "Report" }}</h1>
{{ if check_patient_risk .risks }}<b>{{ _ "At risk" }}</b>{{ end }}
{{ range .risks }}<i class="{{ dot_color .value }}"></i>{{ end }}
<p>{{ ngettext "%d risk" "%d risks" (len .risks) (len .risks) }}</p>
{{ markdown .notes }}{{ end }}`)

	tr, err := i18n.NewTranslator("de_DE", &i18n.Compiled{Messages: map[string]string{
		"Report":   "Bericht",
		"At risk":  "Gefährdet",
		"%d risks": "%d Risiken",
	}})
	require.NoError(t, err)

	r := New(templates, nil)
	page := PageSpec{Name: "report", Template: filepath.Join(templates, "report.html")}

	out, err := r.Render(context.Background(), page, Context{
		Locale:     "de_DE",
		Translator: tr,
		CSSPath:    "assets/css/main.ABC.css",
		Data: map[string]interface{}{
			"risks": []interface{}{
				map[string]interface{}{"value": 10.0},
				map[string]interface{}{"value": 50.0},
			},
			"notes": "**bold** <script>",
		},
	})
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, `<html lang="de_DE">`)
	assert.Contains(t, html, `href="assets/css/main.ABC.css"`)
	assert.Contains(t, html, "<h1>Bericht</h1>")
	assert.Contains(t, html, "<b>Gefährdet</b>")
	assert.Contains(t, html, `class="red"`)
	assert.Contains(t, html, `class="yellow"`)
	assert.Contains(t, html, "2 Risiken")
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.NotContains(t, html, "<script>")
	assert.NotContains(t, html, "default")
}

func TestRenderDoesNotMutateData(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "page.html"), `{{ .locale }}`)

	data := map[string]interface{}{"title": "x"}
	r := New(root, nil)
	page := PageSpec{Name: "page", Template: filepath.Join(root, "page.html")}

	out, err := r.Render(context.Background(), page, Context{Locale: "en_US", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "en_US", string(out))
	assert.NotContains(t, data, FieldLocale)
}

func TestRenderFailures(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "syntax.html"), `{{ if }}`)
	writeFile(t, filepath.Join(root, "exec.html"), `<p>partial</p>{{ dot_color .score }}`)

	r := New(root, nil)

	_, err := r.Render(context.Background(),
		PageSpec{Name: "syntax", Template: filepath.Join(root, "syntax.html")},
		Context{Locale: "en_US"})
	require.Error(t, err)
	assert.Equal(t, buildErrors.KindStage, buildErrors.KindOf(err))

	out, err := r.Render(context.Background(),
		PageSpec{Name: "exec", Template: filepath.Join(root, "exec.html")},
		Context{Locale: "en_US", Data: map[string]interface{}{"score": "high"}})
	require.Error(t, err)
	assert.Nil(t, out)

	var be *buildErrors.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, buildErrors.StageRender, be.Stage)
	assert.Equal(t, "en_US", be.Locale)
	assert.Equal(t, filepath.Join(root, "exec.html"), be.Path)
}

func TestRenderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(t.TempDir(), nil).Render(ctx, PageSpec{Name: "x"}, Context{})
	assert.ErrorIs(t, err, context.Canceled)
}
