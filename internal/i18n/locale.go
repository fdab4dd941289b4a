// Package i18n manages translation catalogs: extracting message ids from
// templates, keeping one catalog per locale up to date, compiling catalogs
// into the form the renderer loads, and translating with golang.org/x/text.
package i18n

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Locale identifies a language/region, e.g. "en_US". It names both a
// catalog directory and the suffix of rendered pages.
type Locale string

// String returns the locale identifier.
func (l Locale) String() string {
	return string(l)
}

// Tag parses the locale as a BCP 47 tag. Underscores are accepted.
func (l Locale) Tag() (language.Tag, error) {
	tag, err := language.Parse(string(l))
	if err != nil {
		return language.Und, fmt.Errorf("locale %q: %w", l, err)
	}

	return tag, nil
}

// ListLocales returns the locales found as subdirectories of dir, sorted.
// Hidden directories are skipped.
func ListLocales(dir string) ([]Locale, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing locales in %s: %w", dir, err)
	}

	locales := make([]Locale, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		locales = append(locales, Locale(entry.Name()))
	}

	sort.Slice(locales, func(i, j int) bool { return locales[i] < locales[j] })

	return locales, nil
}
