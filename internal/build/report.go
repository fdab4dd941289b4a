package build

import (
	"time"

	buildErrors "github.com/conneroisu/trafficlight/internal/errors"
	"github.com/conneroisu/trafficlight/internal/history"
	"github.com/conneroisu/trafficlight/internal/i18n"
)

// Outcome is the final status of a build.
type Outcome string

const (
	// OutcomeSuccess means every stage completed without a failure.
	OutcomeSuccess Outcome = "success"
	// OutcomeDegraded means the build completed with stage or data failures.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeFailed means a fatal failure aborted the build.
	OutcomeFailed Outcome = "failed"
)

// Report describes one build.
type Report struct {
	BuildID  string
	Started  time.Time
	Duration time.Duration
	Outcome  Outcome

	// Stylesheet is the file name of the compiled stylesheet and CSSPath
	// the path pages reference it by. Both are set even when compiling
	// failed.
	Stylesheet string
	CSSPath    string

	Locales      []i18n.Locale
	Localization *i18n.RefreshReport
	Pages        []string
	Documents    []string
	Failures     []*buildErrors.BuildError
}

// Count returns the number of failures of kind.
func (r *Report) Count(kind buildErrors.Kind) int {
	n := 0
	for _, f := range r.Failures {
		if f.Kind == kind {
			n++
		}
	}

	return n
}

// Record converts the report into a history record.
func (r *Report) Record() history.Record {
	failures := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		failures = append(failures, f.Error())
	}

	return history.Record{
		BuildID:    r.BuildID,
		Started:    r.Started,
		Duration:   r.Duration,
		Outcome:    string(r.Outcome),
		Stylesheet: r.Stylesheet,
		Pages:      len(r.Pages),
		Documents:  len(r.Documents),
		Failures:   failures,
	}
}
