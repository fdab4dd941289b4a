// Package runner executes external tools and reports exactly what happened:
// exit status, captured output and duration.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrToolNotFound is returned when the tool binary cannot be located.
var ErrToolNotFound = errors.New("tool not found")

// waitDelay bounds how long Run waits for output pipes after the process
// was killed by its context.
const waitDelay = time.Second

// Result describes one finished tool invocation.
type Result struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Success reports whether the tool exited with status zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Err returns nil for a zero exit status and a descriptive error otherwise.
func (r *Result) Err() error {
	if r.Success() {
		return nil
	}

	msg := strings.TrimSpace(string(r.Stderr))
	if msg == "" {
		msg = strings.TrimSpace(string(r.Stdout))
	}

	return fmt.Errorf("%s exited with status %d: %s", r.Command, r.ExitCode, msg)
}

// Runner runs external tools.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (*Result, error)
}

// ExecRunner runs tools with os/exec. A zero Timeout means no timeout.
type ExecRunner struct {
	Timeout time.Duration
	Env     []string
}

// New creates an ExecRunner.
func New(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run executes name with args in dir. The returned error is non-nil only when
// the tool could not be started or the context ended; a non-zero exit status
// is reported through the Result.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("empty command")
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	start := time.Now()
	runErr := cmd.Run()

	result := &Result{
		Command:  name,
		Args:     args,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("%s interrupted: %w", name, ctx.Err())
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}

		return result, fmt.Errorf("%s failed to run: %w", name, runErr)
	}

	return result, nil
}
