package wasmbuild

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Command is a structured descriptor for one external invocation: an
// argument vector, a working directory and an environment overlay. No
// shell string concatenation happens anywhere in the pipeline.
type Command struct {
	Args    []string
	Dir     string
	Env     map[string]string // overlaid on the executor's base environment
	Capture bool              // capture stdout/stderr instead of streaming
	Output  io.Writer         // stream destination; defaults to os.Stdout/os.Stderr
}

// Result carries captured output; both fields are empty in streaming mode.
type Result struct {
	Stdout string
	Stderr string
}

// CommandError reports a nonzero exit from an external tool, with any
// captured stderr attached.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// commandRunner is what the orchestrator depends on; tests substitute a
// recording fake.
type commandRunner interface {
	Run(c Command) (Result, error)
}

// Executor runs Commands with a consistent environment and context-based
// cancellation. The child is isolated in its own process group so a cancel
// kills the whole build tree (configure spawns plenty of grandchildren).
type Executor struct {
	Context context.Context
	BaseEnv map[string]string
}

func NewExecutor(ctx context.Context) *Executor {
	return &Executor{Context: ctx, BaseEnv: environMap()}
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return env
}

// lookPathIn resolves name against an explicit PATH value. exec.Command
// resolves bare names against the parent's PATH, which is useless once the
// toolchain environment has been sourced into an overlay instead.
func lookPathIn(pathList, name string) (string, error) {
	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			dir = "."
		}
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s not found in PATH", name)
}

// Run executes c. On a nonzero exit any captured stderr is surfaced before
// the error propagates; the run is never retried.
func (e *Executor) Run(c Command) (Result, error) {
	if len(c.Args) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}

	env := make(map[string]string, len(e.BaseEnv)+len(c.Env))
	for k, v := range e.BaseEnv {
		env[k] = v
	}
	for k, v := range c.Env {
		env[k] = v
	}

	name := c.Args[0]
	if !strings.ContainsRune(name, os.PathSeparator) {
		if p, err := lookPathIn(env["PATH"], name); err == nil {
			name = p
		}
	}

	cmd := exec.CommandContext(e.Context, name, c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = envSlice(env)

	var stdout, stderr bytes.Buffer
	if c.Capture {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	} else if c.Output != nil {
		cmd.Stdout = c.Output
		cmd.Stderr = c.Output
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	debugf("running %q in %s\n", strings.Join(c.Args, " "), c.Dir)
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start %q: %w", c.Args[0], err)
	}

	pgid := cmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-e.Context.Done():
			syscall.Kill(-pgid, syscall.SIGKILL)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if waitErr != nil {
		if e.Context.Err() != nil {
			time.Sleep(100 * time.Millisecond)
			return res, fmt.Errorf("command aborted: %v", e.Context.Err())
		}
		if c.Capture && res.Stderr != "" {
			fmt.Fprint(os.Stderr, res.Stderr)
		}
		return res, &CommandError{Args: c.Args, Stderr: res.Stderr, Err: waitErr}
	}
	return res, nil
}

func envSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
