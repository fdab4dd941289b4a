package i18n

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/trafficlight/internal/logging"
)

// Manager keeps the catalogs under one locale directory in sync with the
// templates.
type Manager struct {
	dir       string
	templates string
	domain    string
	logger    logging.Logger
}

// LocaleStats summarizes one locale after an update or compile.
type LocaleStats struct {
	Locale     Locale
	Translated int
	Missing    int
	Obsolete   int
	Changed    bool
}

// RefreshReport is the outcome of Refresh. Skipped lists the templates and
// catalogs that did not parse; a skipped locale keeps its previous compiled
// catalog. Written lists the catalog files Refresh rewrote.
type RefreshReport struct {
	Messages int
	Locales  []LocaleStats
	Skipped  []*SourceError
	Written  []string
}

// NewManager creates a manager for the catalogs in dir, extracting from the
// templates in templatesDir.
func NewManager(dir, templatesDir, domain string, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Manager{
		dir:       dir,
		templates: templatesDir,
		domain:    domain,
		logger:    logger.WithComponent("i18n"),
	}
}

// Dir returns the locale directory.
func (m *Manager) Dir() string {
	return m.dir
}

// TemplatePath is the path of the template catalog.
func (m *Manager) TemplatePath() string {
	return filepath.Join(m.dir, m.domain+".pot.yaml")
}

// CatalogPath is the path of the editable catalog of locale.
func (m *Manager) CatalogPath(locale Locale) string {
	return filepath.Join(m.dir, string(locale), m.domain+".yaml")
}

// CompiledPath is the path of the compiled catalog of locale.
func (m *Manager) CompiledPath(locale Locale) string {
	return filepath.Join(m.dir, string(locale), m.domain+".json")
}

// Locales lists the locales currently present.
func (m *Manager) Locales() ([]Locale, error) {
	return ListLocales(m.dir)
}

// Refresh runs extract, then update and compile for every locale. Only
// filesystem failures are returned as errors.
func (m *Manager) Refresh(ctx context.Context) (*RefreshReport, error) {
	tmpl, skipped, changed, err := m.extract(ctx)
	if err != nil {
		return nil, err
	}

	locales, err := m.Locales()
	if err != nil {
		return nil, err
	}

	report := &RefreshReport{Messages: len(tmpl.Messages), Skipped: skipped}
	if changed {
		report.Written = append(report.Written, m.TemplatePath())
	}
	for _, locale := range locales {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		updated, err := m.update(ctx, locale, tmpl)
		if err != nil {
			var se *SourceError
			if !errors.As(err, &se) {
				return nil, err
			}
			m.logger.Warn(ctx, err, "Skipping malformed catalog", "locale", locale)
			report.Skipped = append(report.Skipped, se)
			continue
		}
		if updated.Changed {
			report.Written = append(report.Written, m.CatalogPath(locale))
		}

		stats, err := m.compile(ctx, locale)
		if err != nil {
			return nil, err
		}
		if stats.Changed {
			report.Written = append(report.Written, m.CompiledPath(locale))
		}
		report.Locales = append(report.Locales, stats)
	}

	return report, nil
}

// Extract scans the templates and writes the template catalog. Templates
// that do not parse are left out and returned.
func (m *Manager) Extract(ctx context.Context) (*TemplateCatalog, []*SourceError, error) {
	tmpl, skipped, _, err := m.extract(ctx)
	return tmpl, skipped, err
}

func (m *Manager) extract(ctx context.Context) (*TemplateCatalog, []*SourceError, bool, error) {
	m.logger.Info(ctx, "Re-extract localization messages", "templates", m.templates)

	msgs, skipped, err := ExtractDir(m.templates)
	if err != nil {
		return nil, nil, false, err
	}
	for _, se := range skipped {
		m.logger.Warn(ctx, se, "Skipping template", "path", se.Path)
	}

	tmpl := &TemplateCatalog{Domain: m.domain, Messages: msgs}
	data, err := encodeYAML(tmpl)
	if err != nil {
		return nil, nil, false, fmt.Errorf("encoding template catalog: %w", err)
	}

	changed, err := writeIfChanged(m.TemplatePath(), data)
	if err != nil {
		return nil, nil, false, fmt.Errorf("writing template catalog: %w", err)
	}
	m.logger.Debug(ctx, "Template catalog written", "messages", len(msgs), "changed", changed)

	return tmpl, skipped, changed, nil
}

// Update merges the template catalog into the catalog of locale.
func (m *Manager) Update(ctx context.Context, locale Locale) (*LocaleStats, error) {
	tmpl, err := m.loadTemplate()
	if err != nil {
		return nil, err
	}

	return m.update(ctx, locale, tmpl)
}

func (m *Manager) update(ctx context.Context, locale Locale, tmpl *TemplateCatalog) (*LocaleStats, error) {
	m.logger.Info(ctx, "Update localization file", "locale", locale)

	catalog, err := m.loadCatalog(locale)
	if err != nil {
		return nil, err
	}

	merged := Merge(catalog, tmpl)
	data, err := encodeYAML(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding catalog for %s: %w", locale, err)
	}

	changed, err := writeIfChanged(m.CatalogPath(locale), data)
	if err != nil {
		return nil, fmt.Errorf("writing catalog for %s: %w", locale, err)
	}

	stats := statsFor(merged)
	stats.Changed = changed

	return &stats, nil
}

// Compile writes the compiled catalog of every locale.
func (m *Manager) Compile(ctx context.Context) ([]LocaleStats, error) {
	m.logger.Info(ctx, "Recompile localization files")

	locales, err := m.Locales()
	if err != nil {
		return nil, err
	}

	result := make([]LocaleStats, 0, len(locales))
	for _, locale := range locales {
		stats, err := m.compile(ctx, locale)
		if err != nil {
			return nil, err
		}
		result = append(result, stats)
	}

	return result, nil
}

func (m *Manager) compile(ctx context.Context, locale Locale) (LocaleStats, error) {
	catalog, err := m.loadCatalog(locale)
	if err != nil {
		return LocaleStats{}, err
	}

	data, err := encodeJSON(CompileCatalog(catalog))
	if err != nil {
		return LocaleStats{}, fmt.Errorf("encoding compiled catalog for %s: %w", locale, err)
	}

	changed, err := writeIfChanged(m.CompiledPath(locale), data)
	if err != nil {
		return LocaleStats{}, fmt.Errorf("writing compiled catalog for %s: %w", locale, err)
	}

	stats := statsFor(catalog)
	stats.Changed = changed
	if stats.Missing > 0 {
		m.logger.Debug(ctx, "Untranslated messages", "locale", locale, "missing", stats.Missing)
	}

	return stats, nil
}

// Init creates the catalog of a new locale from the template catalog.
func (m *Manager) Init(ctx context.Context, locale Locale) (*LocaleStats, error) {
	if _, err := locale.Tag(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(m.CatalogPath(locale)); err == nil {
		return nil, fmt.Errorf("catalog for %s already exists", locale)
	}

	tmpl, err := m.loadTemplate()
	if errors.Is(err, os.ErrNotExist) {
		tmpl, _, err = m.Extract(ctx)
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(m.dir, string(locale)), 0o755); err != nil {
		return nil, fmt.Errorf("creating locale directory: %w", err)
	}

	return m.update(ctx, locale, tmpl)
}

// Translator loads the compiled catalog of locale.
func (m *Manager) Translator(locale Locale) (*Translator, error) {
	compiled, err := LoadCompiled(m.CompiledPath(locale), locale)
	if err != nil {
		return nil, err
	}

	return NewTranslator(locale, compiled)
}

func (m *Manager) loadTemplate() (*TemplateCatalog, error) {
	var tmpl TemplateCatalog
	if err := readYAML(m.TemplatePath(), &tmpl); err != nil {
		return nil, fmt.Errorf("reading template catalog: %w", err)
	}

	return &tmpl, nil
}

func (m *Manager) loadCatalog(locale Locale) (*LocaleCatalog, error) {
	catalog := &LocaleCatalog{Locale: locale}

	err := readYAML(m.CatalogPath(locale), catalog)
	if errors.Is(err, os.ErrNotExist) {
		return catalog, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog for %s: %w", locale, err)
	}
	catalog.Locale = locale

	return catalog, nil
}

// Merge brings catalog in line with tmpl: existing translations are kept,
// new ids are added untranslated, ids missing from tmpl are marked obsolete
// and revived if they come back.
func Merge(catalog *LocaleCatalog, tmpl *TemplateCatalog) *LocaleCatalog {
	existing := make(map[string]Entry, len(catalog.Messages))
	for _, e := range catalog.Messages {
		existing[e.ID] = e
	}

	merged := &LocaleCatalog{Locale: catalog.Locale, Messages: make([]Entry, 0, len(tmpl.Messages))}
	current := make(map[string]bool, len(tmpl.Messages))

	for _, msg := range tmpl.Messages {
		current[msg.ID] = true
		entry, ok := existing[msg.ID]
		if !ok {
			entry = Entry{ID: msg.ID}
		}
		entry.Plural = msg.Plural
		entry.Obsolete = false
		if entry.Plural == "" {
			entry.PluralTranslation = ""
		}
		merged.Messages = append(merged.Messages, entry)
	}

	for _, e := range catalog.Messages {
		if current[e.ID] {
			continue
		}
		e.Obsolete = true
		merged.Messages = append(merged.Messages, e)
	}

	sortEntries(merged.Messages)

	return merged
}

// CompileCatalog keeps the translated, non-obsolete entries of catalog.
func CompileCatalog(catalog *LocaleCatalog) *Compiled {
	compiled := &Compiled{Locale: catalog.Locale, Messages: make(map[string]string)}

	for _, e := range catalog.Messages {
		if e.Obsolete {
			continue
		}
		if e.Translation != "" {
			compiled.Messages[e.ID] = e.Translation
		}
		if e.Plural != "" && e.PluralTranslation != "" {
			compiled.Messages[e.Plural] = e.PluralTranslation
		}
	}

	return compiled
}

func statsFor(catalog *LocaleCatalog) LocaleStats {
	stats := LocaleStats{Locale: catalog.Locale}
	for _, e := range catalog.Messages {
		switch {
		case e.Obsolete:
			stats.Obsolete++
		case e.Translation == "":
			stats.Missing++
		default:
			stats.Translated++
		}
	}

	return stats
}
