package pipeline

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shell(script string) Command {
	return Command{Binary: "sh", Args: []string{"-c", script}}
}

func TestExecRunnerSuccess(t *testing.T) {
	requireShell(t)
	res, err := NewExecRunner(nil).Run(context.Background(), shell("echo built; echo warn >&2"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "built")
	assert.Contains(t, res.Output, "warn")
	assert.False(t, res.Truncated)
}

func TestExecRunnerExitCode(t *testing.T) {
	requireShell(t)
	res, err := NewExecRunner(nil).Run(context.Background(), shell("echo gradle broke; exit 3"))

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, 3, exitErr.Code)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "gradle broke")
}

func TestExecRunnerTimeout(t *testing.T) {
	requireShell(t)
	cmd := shell("sleep 5")
	cmd.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := NewExecRunner(nil).Run(context.Background(), cmd)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecRunnerTimeoutKillsChildren(t *testing.T) {
	requireShell(t)
	// The background sleep would hold the output pipe open if only sh died.
	cmd := shell("sleep 5 & sleep 5; wait")
	cmd.Timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := NewExecRunner(nil).Run(context.Background(), cmd)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecRunnerCanceled(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecRunner(nil).Run(ctx, shell("sleep 5"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecRunnerTruncatesOutput(t *testing.T) {
	requireShell(t)
	// 512 KiB of 'x', twice the cap.
	res, err := NewExecRunner(nil).Run(context.Background(), shell("head -c 524288 /dev/zero | tr '\\0' x"))
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Output, MaxOutputBytes)
	assert.Equal(t, strings.Repeat("x", 16), res.Output[:16])
}

func TestExecRunnerDirAndEnv(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	cmd := shell("pwd; echo $WORKERCONNECT_STAGE")
	cmd.Dir = dir
	cmd.Env = []string{"WORKERCONNECT_STAGE=cap-sync"}

	res, err := NewExecRunner(nil).Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "cap-sync")
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := NewExecRunner(nil).Run(context.Background(), Command{Binary: "workerconnect-no-such-tool"})
	assert.Error(t, err)

	_, err = NewExecRunner(nil).Run(context.Background(), Command{})
	assert.Error(t, err)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "npm run build", Command{Binary: "npm", Args: []string{"run", "build"}}.String())
	assert.Equal(t, "xcodebuild", Command{Binary: "xcodebuild"}.String())
}

func TestStageError(t *testing.T) {
	err := &StageError{Strategy: "capacitor", Stage: "cap sync", Err: &ExitError{Code: 1}}
	assert.Equal(t, "capacitor/cap sync: exit status 1", err.Error())

	var exitErr *ExitError
	assert.True(t, errors.As(err, &exitErr))
}
