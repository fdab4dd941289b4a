// Package pdf converts rendered HTML pages into PDF documents.
//
// Two engines are available: a headless Chrome driven through go-rod, and an
// external command such as wkhtmltopdf run through the tool runner.
package pdf

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/conneroisu/trafficlight/internal/logging"
	"github.com/conneroisu/trafficlight/internal/runner"
)

// DefaultZoom is the scale pages are printed at.
const DefaultZoom = 1.75

// Converter writes the PDF form of an HTML file.
type Converter interface {
	Convert(ctx context.Context, htmlPath, pdfPath string) error
	Close() error
}

// Placeholders substituted in command arguments.
const (
	ArgInput  = "{input}"
	ArgOutput = "{output}"
	ArgZoom   = "{zoom}"
)

// CommandConverter runs an external HTML to PDF tool.
type CommandConverter struct {
	command string
	args    []string
	zoom    float64
	runner  runner.Runner
	logger  logging.Logger
}

// NewCommandConverter creates a converter running command with args. When
// args do not mention ArgInput, "--zoom {zoom} {input} {output}" is appended,
// which is the wkhtmltopdf calling convention.
func NewCommandConverter(command string, args []string, zoom float64, r runner.Runner, logger logging.Logger) *CommandConverter {
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &CommandConverter{
		command: command,
		args:    args,
		zoom:    zoom,
		runner:  r,
		logger:  logger.WithComponent("pdf"),
	}
}

// Convert runs the tool for one page.
func (c *CommandConverter) Convert(ctx context.Context, htmlPath, pdfPath string) error {
	args := c.Args(htmlPath, pdfPath)

	result, err := c.runner.Run(ctx, "", c.command, args...)
	if err != nil {
		return fmt.Errorf("running %s: %w", c.command, err)
	}
	if err := result.Err(); err != nil {
		return err
	}

	c.logger.Debug(ctx, "PDF written", "html", htmlPath, "pdf", pdfPath, "duration", result.Duration)

	return nil
}

// Args returns the arguments used to convert htmlPath into pdfPath.
func (c *CommandConverter) Args(htmlPath, pdfPath string) []string {
	template := c.args
	if !containsArg(template, ArgInput) {
		template = append(append([]string(nil), template...), "--zoom", ArgZoom, ArgInput, ArgOutput)
	}

	replacer := strings.NewReplacer(
		ArgInput, htmlPath,
		ArgOutput, pdfPath,
		ArgZoom, strconv.FormatFloat(c.zoom, 'f', -1, 64),
	)

	args := make([]string, len(template))
	for i, arg := range template {
		args[i] = replacer.Replace(arg)
	}

	return args
}

// Close is a no-op; every conversion is its own process.
func (c *CommandConverter) Close() error {
	return nil
}

func containsArg(args []string, placeholder string) bool {
	for _, arg := range args {
		if strings.Contains(arg, placeholder) {
			return true
		}
	}

	return false
}

// fileURL turns a path into a file:// URL the browser can load. Relative
// stylesheet links resolve against it.
func fileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return "file://" + filepath.ToSlash(abs), nil
}

// Engines accepted by New.
const (
	EngineChrome  = "chrome"
	EngineCommand = "command"
)

// Options selects and configures an engine.
type Options struct {
	Engine  string
	Command string
	Args    []string
	Zoom    float64
	Browser string
}

// New creates the converter for opts.Engine.
func New(opts Options, r runner.Runner, logger logging.Logger) (Converter, error) {
	switch opts.Engine {
	case EngineChrome, "":
		return NewChromeConverter(opts.Browser, opts.Zoom, logger), nil
	case EngineCommand:
		if opts.Command == "" {
			return nil, fmt.Errorf("pdf engine %q needs a command", opts.Engine)
		}
		return NewCommandConverter(opts.Command, opts.Args, opts.Zoom, r, logger), nil
	default:
		return nil, fmt.Errorf("unknown pdf engine %q", opts.Engine)
	}
}
