package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sagenxt/WorkerConnect-sub001/logging"
)

// Command is one external process invocation.
type Command struct {
	Binary  string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Result is what a finished process left behind.
type Result struct {
	ExitCode  int
	Output    string // combined stdout and stderr, capped at MaxOutputBytes
	Truncated bool
	Duration  time.Duration
}

// Runner executes commands. ExecRunner is the real one; tests substitute
// their own.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// MaxOutputBytes caps the captured output of a single command.
const MaxOutputBytes = 256 * 1024

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExecRunner runs commands on the host with a per-command timeout.
type ExecRunner struct {
	logger *zap.Logger
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logging.OrNop(logger)}
}

// Run starts the command and waits for it. A non-zero exit is returned as
// *ExitError together with the captured result.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, errors.New("pipeline: empty command")
	}

	execCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = append(os.Environ(), cmd.Env...)
	execCmd.WaitDelay = 5 * time.Second
	killGroupOnCancel(execCmd)

	var out bytes.Buffer
	limited := &limitedWriter{w: &out, max: MaxOutputBytes}
	execCmd.Stdout = limited
	execCmd.Stderr = limited

	r.logger.Debug("running command", zap.String("cmd", cmd.String()), zap.String("dir", cmd.Dir))

	start := time.Now()
	err := execCmd.Run()
	result := &Result{
		ExitCode:  -1,
		Output:    out.String(),
		Truncated: limited.truncated,
		Duration:  time.Since(start),
	}

	if err == nil {
		result.ExitCode = 0
		return result, nil
	}

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return result, fmt.Errorf("timed out after %s: %w", cmd.Timeout, context.DeadlineExceeded)
	case ctx.Err() != nil:
		return result, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{Code: result.ExitCode}
	}
	return result, err
}

// limitedWriter keeps the first max bytes and discards the rest while still
// reporting full writes, so the child never sees a short write.
type limitedWriter struct {
	w         *bytes.Buffer
	max       int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if room := lw.max - lw.w.Len(); room < len(p) {
		lw.truncated = true
		if room > 0 {
			lw.w.Write(p[:room])
		}
		return len(p), nil
	}
	return lw.w.Write(p)
}
