package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner runs external CLI tools.
type Runner interface {
	// LookPath reports whether the tool can be executed.
	LookPath(ctx context.Context, name string) bool
	// Run executes the tool and returns its standard output. A non-zero
	// exit yields a *ToolError alongside whatever output was produced.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ToolError describes a failed tool invocation.
type ToolError struct {
	Tool     string
	ExitCode int
	Timeout  bool
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("tool %s: timed out", e.Tool)
	case e.ExitCode != 0:
		return fmt.Sprintf("tool %s: exit %d: %s", e.Tool, e.ExitCode, e.Stderr)
	default:
		return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
	}
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExecRunner runs tools as local processes. Prefix, when set, is
// prepended to every command line, e.g. []string{"wsl"} to reach tools
// installed in a Linux subsystem.
type ExecRunner struct {
	Prefix []string
}

func (r ExecRunner) LookPath(ctx context.Context, name string) bool {
	if len(r.Prefix) == 0 {
		_, err := exec.LookPath(name)
		return err == nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := r.Run(ctx, "which", name)
	return err == nil && strings.TrimSpace(string(out)) != ""
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	argv := make([]string, 0, len(r.Prefix)+1+len(args))
	argv = append(argv, r.Prefix...)
	argv = append(argv, name)
	argv = append(argv, args...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	te := &ToolError{Tool: name, Err: err, Stderr: tail(stderr.String(), 500)}
	if ctx.Err() != nil {
		te.Timeout = errors.Is(ctx.Err(), context.DeadlineExceeded)
		te.Err = ctx.Err()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		te.ExitCode = ee.ExitCode()
	}
	return stdout.Bytes(), te
}

// runTool runs a tool under its own time budget.
func runTool(ctx context.Context, r Runner, budget time.Duration, name string, args ...string) ([]byte, error) {
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	return r.Run(ctx, name, args...)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
