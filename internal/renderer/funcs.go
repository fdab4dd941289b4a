package renderer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"reflect"

	"github.com/spf13/cast"
	"github.com/yuin/goldmark"

	"github.com/conneroisu/trafficlight/internal/i18n"
)

// Risk and color thresholds of the report pages.
const (
	RiskThreshold = 25.0

	redLimit    = 16.6
	orangeLimit = 33.3
	yellowLimit = 66.6
)

// CheckPatientRisk reports whether risks is a list holding at least one
// entry whose numeric "value" is below RiskThreshold. Anything that is not a
// list, and entries without a numeric value, count as no risk. Maps and
// strings are not lists here: a map of risks is never inspected.
func CheckPatientRisk(risks interface{}) bool {
	v := reflect.ValueOf(risks)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return false
	}

	for i := 0; i < v.Len(); i++ {
		value, ok := riskValue(v.Index(i))
		if ok && value < RiskThreshold {
			return true
		}
	}

	return false
}

func riskValue(item reflect.Value) (float64, bool) {
	for item.Kind() == reflect.Interface || item.Kind() == reflect.Pointer {
		if item.IsNil() {
			return 0, false
		}
		item = item.Elem()
	}
	if item.Kind() != reflect.Map || item.Type().Key().Kind() != reflect.String {
		return 0, false
	}

	value := item.MapIndex(reflect.ValueOf("value").Convert(item.Type().Key()))
	if !value.IsValid() {
		return 0, false
	}

	return numeric(value.Interface())
}

// numeric converts numbers only; strings and booleans are rejected.
func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, err := cast.ToFloat64E(n)
		return f, err == nil
	}

	return 0, false
}

// DotColor maps a score to the color of its indicator dot.
func DotColor(value interface{}) (string, error) {
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return "", fmt.Errorf("dot_color: %w", err)
	}

	switch {
	case f <= redLimit:
		return "red", nil
	case f <= orangeLimit:
		return "orange", nil
	case f <= yellowLimit:
		return "yellow", nil
	default:
		return "blue", nil
	}
}

// FuncMap returns the template functions bound to one locale's translator.
func FuncMap(tr *i18n.Translator, md goldmark.Markdown) template.FuncMap {
	gettext := func(id string, args ...interface{}) string {
		return tr.Gettext(id, args...)
	}

	return template.FuncMap{
		i18n.FuncGettext:  gettext,
		i18n.FuncUnderbar: gettext,
		i18n.FuncNgettext: func(singular, plural string, n interface{}, args ...interface{}) (string, error) {
			count, err := cast.ToIntE(n)
			if err != nil {
				return "", fmt.Errorf("ngettext: %w", err)
			}
			return tr.Ngettext(singular, plural, count, args...), nil
		},
		"check_patient_risk": CheckPatientRisk,
		"dot_color":          DotColor,
		"markdown": func(src interface{}) (template.HTML, error) {
			var buf bytes.Buffer
			if err := md.Convert([]byte(cast.ToString(src)), &buf); err != nil {
				return "", fmt.Errorf("markdown: %w", err)
			}
			return template.HTML(buf.String()), nil //nolint:gosec // goldmark escapes raw HTML
		},
	}
}
