// Package styles compiles the stylesheet entry point into one CSS bundle
// with an external compiler, the Dart Sass CLI by default.
package styles

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/conneroisu/trafficlight/internal/logging"
	"github.com/conneroisu/trafficlight/internal/runner"
)

// Output styles understood by the compiler.
const (
	StyleCompressed = "compressed"
	StyleExpanded   = "expanded"
)

// ErrNoEntry is returned when the style directory has no entry point.
var ErrNoEntry = errors.New("no style entry point")

// Compiler turns the style sources into CSS.
type Compiler interface {
	Compile(ctx context.Context) ([]byte, error)
}

// Options configures a SassCompiler.
type Options struct {
	Dir         string
	Entry       string
	Command     string
	Args        []string
	OutputStyle string
}

// SassCompiler runs a Sass-compatible CLI and captures the CSS it prints.
type SassCompiler struct {
	opts   Options
	runner runner.Runner
	logger logging.Logger
}

// NewSassCompiler creates a compiler running opts.Command through r.
func NewSassCompiler(opts Options, r runner.Runner, logger logging.Logger) *SassCompiler {
	if opts.Command == "" {
		opts.Command = "sass"
	}
	if opts.OutputStyle == "" {
		opts.OutputStyle = StyleCompressed
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &SassCompiler{
		opts:   opts,
		runner: r,
		logger: logger.WithComponent("styles"),
	}
}

// Compile compiles the entry point and returns the CSS.
func (c *SassCompiler) Compile(ctx context.Context) ([]byte, error) {
	entry, err := FindEntry(c.opts.Dir, c.opts.Entry)
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, len(c.opts.Args)+3)
	args = append(args, c.opts.Args...)
	args = append(args, "--style="+c.opts.OutputStyle, "--no-source-map", entry)

	result, err := c.runner.Run(ctx, "", c.opts.Command, args...)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", c.opts.Command, err)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	c.logger.Debug(ctx, "Styles compiled", "entry", entry, "bytes", len(result.Stdout), "duration", result.Duration)

	return result.Stdout, nil
}

// FindEntry returns dir/<entry>.scss, or else the first dir/<entry>.* in
// name order.
func FindEntry(dir, entry string) (string, error) {
	if entry == "" {
		entry = "main"
	}

	preferred := filepath.Join(dir, entry+".scss")
	if info, err := os.Stat(preferred); err == nil && !info.IsDir() {
		return preferred, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, entry+".*"))
	if err != nil {
		return "", err
	}
	sort.Strings(matches)

	for _, match := range matches {
		if info, err := os.Stat(match); err == nil && !info.IsDir() {
			return match, nil
		}
	}

	return "", fmt.Errorf("%w: %s in %s", ErrNoEntry, entry, dir)
}
