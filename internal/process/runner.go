package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// ExitLaunchFailed is the exit code recorded when a command cannot start.
const ExitLaunchFailed = -1

// Command is one external invocation. Args are passed as argv, never through
// a shell.
type Command struct {
	Name string
	Args []string
	Dir  string
}

// String renders the command for the log, quoting arguments with spaces.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, p := range append([]string{c.Name}, c.Args...) {
		if p == "" || strings.ContainsAny(p, " \t'\"") {
			p = "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

// Runner executes commands. Run returns the process exit code; err is
// non-nil only when the process could not be started, in which case the code
// is ExitLaunchFailed.
type Runner interface {
	Run(ctx context.Context, cmd Command) (int, error)
}

// ExecRunner runs commands with os/exec and appends their combined output to
// Output when it is set.
type ExecRunner struct {
	Output io.Writer

	mu sync.Mutex
}

// NewExecRunner builds a runner writing tool output to out.
func NewExecRunner(out io.Writer) *ExecRunner {
	return &ExecRunner{Output: out}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (int, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if r.Output != nil {
		w := &lockedWriter{mu: &r.mu, w: r.Output}
		fmt.Fprintf(w, "$ %s\n", cmd)
		c.Stdout = w
		c.Stderr = w
	}
	err := c.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return ExitLaunchFailed, fmt.Errorf("process: start %s: %w", cmd.Name, err)
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
