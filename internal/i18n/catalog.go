package i18n

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Message is one translatable string found in the templates.
type Message struct {
	ID     string   `yaml:"id"`
	Plural string   `yaml:"plural,omitempty"`
	Refs   []string `yaml:"refs,omitempty"`
}

// TemplateCatalog lists every message id of the project. It is regenerated
// by Extract and is the source every locale catalog is updated from.
type TemplateCatalog struct {
	Domain   string    `yaml:"domain"`
	Messages []Message `yaml:"messages"`
}

// Entry is a message with its translation in one locale.
type Entry struct {
	ID                string `yaml:"id"`
	Plural            string `yaml:"plural,omitempty"`
	Translation       string `yaml:"translation"`
	PluralTranslation string `yaml:"plural_translation,omitempty"`
	Obsolete          bool   `yaml:"obsolete,omitempty"`
}

// LocaleCatalog holds the translations of one locale. Translators edit this
// file.
type LocaleCatalog struct {
	Locale   Locale  `yaml:"locale"`
	Messages []Entry `yaml:"messages"`
}

// Compiled is the loadable form of a locale catalog: only entries with a
// translation, keyed by message id.
type Compiled struct {
	Locale   Locale            `json:"locale"`
	Messages map[string]string `json:"messages"`
}

// SourceError is a template or catalog file that could not be parsed.
// Refresh skips such a file and goes on with the others.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// sortMessages orders messages by id so catalog files are stable.
func sortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Obsolete != entries[j].Obsolete {
			return !entries[i].Obsolete
		}
		return entries[i].ID < entries[j].ID
	})
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return &SourceError{Path: path, Err: err}
	}

	return nil
}

func encodeYAML(in interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(in); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func encodeJSON(in interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return nil, err
	}

	return append(data, '\n'), nil
}

// writeIfChanged writes data to path unless the file already holds exactly
// data. Catalog directories are watched, so rewriting identical content
// would trigger another build.
func writeIfChanged(path string, data []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}

	return true, nil
}

// LoadCompiled reads a compiled catalog. A missing file yields an empty
// catalog for the locale.
func LoadCompiled(path string, locale Locale) (*Compiled, error) {
	compiled := &Compiled{Locale: locale, Messages: map[string]string{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return compiled, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, compiled); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if compiled.Messages == nil {
		compiled.Messages = map[string]string{}
	}

	return compiled, nil
}
