// Package sandbox defines the opaque command-execution primitive. Container
// lifecycle is out of scope; the gateway only needs exec semantics with
// cancellation and capped output streams.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// StreamCap bounds each of stdout and stderr.
const StreamCap = 50_000

// Result is the outcome of one command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Executor runs one command. Implementations must honor ctx cancellation so
// a session abort propagates into the subprocess.
type Executor interface {
	Exec(ctx context.Context, command, workdir string, env []string, timeout time.Duration) (*Result, error)
}

// Local executes commands as host subprocesses via sh -c.
type Local struct{}

// NewLocal creates a host executor.
func NewLocal() *Local { return &Local{} }

// Exec runs the command under the given timeout. The context carries the
// session abort signal; either cancels the subprocess.
func (l *Local) Exec(ctx context.Context, command, workdir string, env []string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = workdir
	if len(env) > 0 {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := &Result{
		Stdout: capStream(stdout.String()),
		Stderr: capStream(stderr.String()),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("exec: %w", err)
	}
	return res, nil
}

func capStream(s string) string {
	if len(s) <= StreamCap {
		return s
	}
	return s[:StreamCap] + fmt.Sprintf("\n[output truncated: %d of %d chars shown]", StreamCap, len(s))
}
