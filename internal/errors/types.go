package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a build failure by how the pipeline reacts to it.
type Kind string

const (
	// KindStage is a failed external call inside one stage. The stage
	// degrades and the pipeline moves on.
	KindStage Kind = "stage"
	// KindData is a missing or malformed page data file. The page renders
	// with empty data.
	KindData Kind = "data"
	// KindFatal aborts the build.
	KindFatal Kind = "fatal"
	// KindNotFound is a file server lookup miss.
	KindNotFound Kind = "not_found"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageInitialize   Stage = "initialize"
	StageStyles       Stage = "compile_styles"
	StageLocalization Stage = "refresh_localization"
	StageRender       Stage = "render_html"
	StagePDF          Stage = "convert_pdf"
	StagePublish      Stage = "publish"
	StageServe        Stage = "serve"
)

// BuildError is a failure with its kind and the stage that produced it.
type BuildError struct {
	Kind    Kind
	Stage   Stage
	Path    string
	Locale  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	parts := []string{fmt.Sprintf("[%s/%s]", e.Stage, e.Kind)}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	if e.Locale != "" {
		parts = append(parts, "locale:"+e.Locale)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a BuildError of the same kind and stage.
func (e *BuildError) Is(target error) bool {
	var t *BuildError
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Stage == t.Stage
	}

	return false
}

// WithPath sets the file the failure relates to.
func (e *BuildError) WithPath(path string) *BuildError {
	e.Path = path

	return e
}

// WithLocale sets the locale the failure relates to.
func (e *BuildError) WithLocale(locale string) *BuildError {
	e.Locale = locale

	return e
}

// NewStageError creates a recoverable stage failure.
func NewStageError(stage Stage, message string, cause error) *BuildError {
	return &BuildError{
		Kind:    KindStage,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// NewDataError creates a data failure for a page data file.
func NewDataError(path, message string, cause error) *BuildError {
	return &BuildError{
		Kind:    KindData,
		Stage:   StageRender,
		Path:    path,
		Message: message,
		Cause:   cause,
	}
}

// NewFatalError creates a failure that aborts the build.
func NewFatalError(stage Stage, message string, cause error) *BuildError {
	return &BuildError{
		Kind:    KindFatal,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// NewNotFoundError creates a lookup miss for the file server.
func NewNotFoundError(pattern string) *BuildError {
	return &BuildError{
		Kind:    KindNotFound,
		Stage:   StageServe,
		Path:    pattern,
		Message: "no file matches",
	}
}

// KindOf returns the kind of err, or KindFatal for errors that are not
// BuildErrors.
func KindOf(err error) Kind {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Kind
	}

	return KindFatal
}

// IsFatal reports whether err must abort the build.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// Wrap wraps a non-nil error with a message, keeping the chain intact.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}
