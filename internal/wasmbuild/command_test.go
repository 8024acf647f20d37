package wasmbuild

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExecutorCapturesOutput(t *testing.T) {
	e := NewExecutor(context.Background())
	res, err := e.Run(Command{
		Args:    []string{"sh", "-c", "echo out; echo err >&2"},
		Capture: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Stdout = %q, want out", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Stderr = %q, want err", res.Stderr)
	}
}

func TestExecutorStreamsToWriter(t *testing.T) {
	e := NewExecutor(context.Background())
	var buf bytes.Buffer
	if _, err := e.Run(Command{
		Args:   []string{"sh", "-c", "echo streamed"},
		Output: &buf,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "streamed" {
		t.Errorf("streamed output = %q", buf.String())
	}
}

func TestExecutorNonzeroExit(t *testing.T) {
	e := NewExecutor(context.Background())
	_, err := e.Run(Command{
		Args:    []string{"sh", "-c", "echo broken >&2; exit 3"},
		Capture: true,
	})
	if err == nil {
		t.Fatal("expected error for nonzero exit")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err = %T, want *CommandError", err)
	}
	if !strings.Contains(cmdErr.Stderr, "broken") {
		t.Errorf("Stderr = %q, want captured stderr", cmdErr.Stderr)
	}
}

func TestExecutorEnvOverlay(t *testing.T) {
	e := NewExecutor(context.Background())
	res, err := e.Run(Command{
		Args:    []string{"sh", "-c", `printf "%s" "$WASM_TARGET"`},
		Env:     map[string]string{"WASM_TARGET": "browser"},
		Capture: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "browser" {
		t.Errorf("overlay variable = %q, want browser", res.Stdout)
	}
}

func TestExecutorWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	e := NewExecutor(context.Background())
	res, err := e.Run(Command{
		Args:    []string{"pwd"},
		Dir:     dir,
		Capture: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, want := strings.TrimSpace(res.Stdout), dir
	// macOS tempdirs live behind a /private symlink.
	if got != want && !strings.HasSuffix(got, want) {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestExecutorResolvesBinaryFromOverlayPATH(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-embuilder")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho ports built\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	e := NewExecutor(context.Background())
	res, err := e.Run(Command{
		Args:    []string{"fake-embuilder"},
		Env:     map[string]string{"PATH": dir + string(os.PathListSeparator) + os.Getenv("PATH")},
		Capture: true,
	})
	if err != nil {
		t.Fatalf("binary on overlay PATH was not found: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "ports built" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestLookPathIn(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "tool")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notexec"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got, err := lookPathIn(dir, "tool"); err != nil || got != exe {
		t.Errorf("lookPathIn = %q, %v; want %q", got, err, exe)
	}
	if _, err := lookPathIn(dir, "notexec"); err == nil {
		t.Error("non-executable file should not resolve")
	}
	if _, err := lookPathIn(dir, "absent"); err == nil {
		t.Error("missing file should not resolve")
	}
}

func TestExecutorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewExecutor(ctx)
	if _, err := e.Run(Command{Args: []string{"sleep", "10"}, Capture: true}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
