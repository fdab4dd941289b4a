// Package renderer renders page templates into localized HTML.
//
// Every page is an html/template file in the templates directory, parsed
// together with the shared layouts in templates/layouts. Its data comes from
// a JSON file of the same name, to which the locale and the stylesheet path
// are added before rendering. The locale is passed explicitly to every
// render; translation functions are bound per call.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	buildErrors "github.com/conneroisu/trafficlight/internal/errors"
	"github.com/conneroisu/trafficlight/internal/i18n"
	"github.com/conneroisu/trafficlight/internal/logging"
)

// LayoutsDir is the directory, relative to the templates directory, holding
// templates shared by every page.
const LayoutsDir = "layouts"

// Fields added to every page's data.
const (
	FieldLocale  = "locale"
	FieldCSSPath = "css_path"
)

// PageSpec is a page template and the data file that feeds it.
type PageSpec struct {
	Name     string
	Template string
	DataPath string
}

// OutputName is the file name of the page rendered for locale.
func (p PageSpec) OutputName(locale i18n.Locale) string {
	return p.Name + "_" + string(locale) + ".html"
}

// DiscoverPages lists the page templates directly inside templatesDir,
// sorted by name.
func DiscoverPages(templatesDir, dataDir string) ([]PageSpec, error) {
	entries, err := os.ReadDir(templatesDir)
	if err != nil {
		return nil, fmt.Errorf("listing templates in %s: %w", templatesDir, err)
	}

	pages := make([]PageSpec, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != i18n.TemplateExt {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), i18n.TemplateExt)
		pages = append(pages, PageSpec{
			Name:     name,
			Template: filepath.Join(templatesDir, entry.Name()),
			DataPath: filepath.Join(dataDir, name+".json"),
		})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Name < pages[j].Name })

	return pages, nil
}

// Context is what a page is rendered with.
type Context struct {
	Locale     i18n.Locale
	Translator *i18n.Translator
	Data       map[string]interface{}
	CSSPath    string
}

// Renderer renders page templates.
type Renderer struct {
	templatesDir string
	markdown     goldmark.Markdown
	logger       logging.Logger
}

// New creates a renderer for the templates in templatesDir.
func New(templatesDir string, logger logging.Logger) *Renderer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Renderer{
		templatesDir: templatesDir,
		markdown:     goldmark.New(),
		logger:       logger.WithComponent("render"),
	}
}

// Render renders page with rc. The page is rendered into memory, so a
// failure never leaves partial output behind. Failures are stage errors
// carrying the template path and locale.
func (r *Renderer) Render(ctx context.Context, page PageSpec, rc Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tr := rc.Translator
	if tr == nil {
		var err error
		if tr, err = i18n.NewTranslator(rc.Locale, nil); err != nil {
			return nil, err
		}
	}

	tmpl, err := r.parse(page, FuncMap(tr, r.markdown))
	if err != nil {
		return nil, renderError(page, rc.Locale, "Template parse error. Check template", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, pageData(rc)); err != nil {
		return nil, renderError(page, rc.Locale, "Template render error. Check template", err)
	}

	r.logger.Debug(ctx, "Page rendered", "page", page.Name, "locale", rc.Locale, "bytes", buf.Len())

	return buf.Bytes(), nil
}

// parse loads the layouts first so that blocks defined by the page replace
// the layout defaults.
func (r *Renderer) parse(page PageSpec, funcs template.FuncMap) (*template.Template, error) {
	src, err := os.ReadFile(page.Template)
	if err != nil {
		return nil, err
	}

	tmpl := template.New(filepath.Base(page.Template)).Funcs(funcs)

	layouts, err := filepath.Glob(filepath.Join(r.templatesDir, LayoutsDir, "*"+i18n.TemplateExt))
	if err != nil {
		return nil, err
	}
	if len(layouts) > 0 {
		sort.Strings(layouts)
		if tmpl, err = tmpl.ParseFiles(layouts...); err != nil {
			return nil, err
		}
	}

	return tmpl.Parse(string(src))
}

func pageData(rc Context) map[string]interface{} {
	data := make(map[string]interface{}, len(rc.Data)+2)
	for k, v := range rc.Data {
		data[k] = v
	}
	data[FieldLocale] = string(rc.Locale)
	data[FieldCSSPath] = rc.CSSPath

	return data
}

func renderError(page PageSpec, locale i18n.Locale, message string, err error) *buildErrors.BuildError {
	return buildErrors.NewStageError(buildErrors.StageRender, message, err).
		WithPath(page.Template).
		WithLocale(string(locale))
}
