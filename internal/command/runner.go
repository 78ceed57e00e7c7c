// Package command runs external commands for scheduled jobs with a timeout
// and an output cap suited to a narrow radio link.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// CommandError reports a spawn failure or non-zero exit.
type CommandError struct {
	Command  string
	ExitCode int // -1 when the process never ran or was killed
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q: exit %d: %v", e.Command, e.ExitCode, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes shell command lines.
type Runner struct {
	Timeout   time.Duration // per command; zero = 30s
	MaxOutput int           // bytes of stdout kept; zero = 1000
}

// NewRunner returns a runner with the given limits, applying defaults for
// zero values.
func NewRunner(timeout time.Duration, maxOutput int) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxOutput <= 0 {
		maxOutput = 1000
	}
	return &Runner{Timeout: timeout, MaxOutput: maxOutput}
}

// Run executes the command line through the shell and returns its trimmed,
// truncated stdout. Timeouts and non-zero exits come back as *CommandError.
func (r *Runner) Run(ctx context.Context, cmdline string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdline)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %v", r.Timeout)
		}
		return "", &CommandError{Command: cmdline, ExitCode: code, Err: err}
	}

	return r.truncate(strings.TrimSpace(stdout.String())), nil
}

// truncate caps s at MaxOutput bytes, backing off to a rune boundary so the
// cut never produces invalid UTF-8.
func (r *Runner) truncate(s string) string {
	if len(s) <= r.MaxOutput {
		return s
	}
	cut := r.MaxOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
