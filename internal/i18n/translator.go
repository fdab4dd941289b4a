package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Translator translates message ids for one locale. Locales that cannot be
// parsed as language tags still translate; only argument formatting falls
// back to the undetermined language.
type Translator struct {
	locale   Locale
	tag      language.Tag
	messages map[string]string
	printer  *message.Printer
}

// NewTranslator builds a translator from a compiled catalog.
func NewTranslator(locale Locale, compiled *Compiled) (*Translator, error) {
	tag, err := locale.Tag()
	if err != nil {
		tag = language.Und
	}

	messages := map[string]string{}
	if compiled != nil && compiled.Messages != nil {
		messages = compiled.Messages
	}

	builder := catalog.NewBuilder(catalog.Fallback(tag))
	for id, translation := range messages {
		if err := builder.SetString(tag, id, translation); err != nil {
			return nil, err
		}
	}

	return &Translator{
		locale:   locale,
		tag:      tag,
		messages: messages,
		printer:  message.NewPrinter(tag, message.Catalog(builder)),
	}, nil
}

// Locale returns the locale the translator was built for.
func (t *Translator) Locale() Locale {
	return t.locale
}

// Tag returns the language tag used for formatting.
func (t *Translator) Tag() language.Tag {
	return t.tag
}

// Gettext translates id. Without args the translation is returned verbatim;
// with args it is used as a format string and the args are formatted for the
// locale.
func (t *Translator) Gettext(id string, args ...interface{}) string {
	if len(args) == 0 {
		if translated, ok := t.messages[id]; ok {
			return translated
		}
		return id
	}

	return t.printer.Sprintf(id, args...)
}

// Ngettext picks singular or plural by n, then translates it like Gettext.
func (t *Translator) Ngettext(singular, plural string, n int, args ...interface{}) string {
	id := plural
	if n == 1 {
		id = singular
	}

	return t.Gettext(id, args...)
}

// Has reports whether id has a translation.
func (t *Translator) Has(id string) bool {
	_, ok := t.messages[id]
	return ok
}
