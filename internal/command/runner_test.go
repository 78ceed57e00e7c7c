package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

// TestRunCapturesOutput trims and returns stdout.
func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner(5*time.Second, 1000)
	out, err := r.Run(context.Background(), "echo hello mesh")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "hello mesh" {
		t.Fatalf("out = %q", out)
	}
}

// TestRunTruncatesOutput caps output at MaxOutput bytes.
func TestRunTruncatesOutput(t *testing.T) {
	r := NewRunner(5*time.Second, 10)
	out, err := r.Run(context.Background(), "printf '%s' aaaaaaaaaaaaaaaaaaaa")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != strings.Repeat("a", 10) {
		t.Fatalf("out = %q, want 10 a's", out)
	}
}

// TestRunTruncatesOnRuneBoundary never splits a multi-byte rune: the cut
// backs off so the output stays valid UTF-8.
func TestRunTruncatesOnRuneBoundary(t *testing.T) {
	// "é" is two bytes; a 5-byte cap lands mid-rune after "abcd".
	r := NewRunner(5*time.Second, 5)
	out, err := r.Run(context.Background(), "printf '%s' 'abcdé'")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "abcd" {
		t.Fatalf("out = %q, want %q", out, "abcd")
	}
	if !utf8.ValidString(out) {
		t.Fatalf("out = %q is not valid UTF-8", out)
	}
}

// TestRunNonZeroExit surfaces a *CommandError with the exit code.
func TestRunNonZeroExit(t *testing.T) {
	r := NewRunner(5*time.Second, 1000)
	_, err := r.Run(context.Background(), "exit 3")
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if ce.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", ce.ExitCode)
	}
}

// TestRunTimeout kills a hung command.
func TestRunTimeout(t *testing.T) {
	r := NewRunner(100*time.Millisecond, 1000)
	start := time.Now()
	_, err := r.Run(context.Background(), "sleep 10")
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}
