package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sagenxt/WorkerConnect-sub001/config"
	"github.com/sagenxt/WorkerConnect-sub001/packaging"
	"github.com/sagenxt/WorkerConnect-sub001/zip"
)

// fakeRunner scripts command outcomes by command line.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	create map[string]string // command line -> artifact written on success
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line := cmd.String()
	f.calls = append(f.calls, line)

	if err := f.fail[line]; err != nil {
		return &Result{ExitCode: 1, Output: line + ": failed"}, err
	}
	if path, ok := f.create[line]; ok {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte("native package"), 0644); err != nil {
			return nil, err
		}
	}
	return &Result{ExitCode: 0, Output: "ok"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Paths.Root = t.TempDir()
	return cfg
}

func newTestDriver(t *testing.T, cfg *config.Config, r Runner) *Driver {
	t.Helper()
	d := NewDriver(cfg, r, zaptest.NewLogger(t))
	d.newID = func() string { return "build-1" }
	return d
}

func downloads(cfg *config.Config, dir, name string) string {
	return filepath.Join(cfg.Resolve(dir), cfg.Paths.Downloads, name)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestBuildFirstStrategySucceeds(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{create: map[string]string{
		"./gradlew assembleDebug": cfg.Resolve(cfg.Android.Strategies[0].Artifact),
	}}

	report, err := newTestDriver(t, cfg, runner).Build(context.Background(), packaging.Android)
	require.NoError(t, err)

	assert.Equal(t, "build-1", report.BuildID)
	assert.Equal(t, "capacitor", report.Strategy)
	assert.False(t, report.Placeholder)
	assert.Len(t, report.Stages, 3)
	assert.Empty(t, report.Failures())
	assert.Equal(t, []string{"npm run build", "npx cap sync android", "./gradlew assembleDebug"}, runner.calls)

	require.Len(t, report.Paths, 2)
	for _, path := range report.Paths {
		assert.Equal(t, "native package", readFile(t, path))
	}
	assert.Equal(t, "WorkerConnect.apk", report.Artifact.FileName)
	assert.Equal(t, len("native package"), report.Artifact.Size)

	readme := readFile(t, downloads(cfg, cfg.Paths.DistDir, "README.txt"))
	assert.Contains(t, readme, "WorkerConnect.apk")
	assert.NotContains(t, readme, "NOTE")
}

func TestBuildFallsBackToNextStrategy(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{
		fail: map[string]error{"npx cap sync android": &ExitError{Code: 1}},
		create: map[string]string{
			"./gradlew assembleRelease": cfg.Resolve(cfg.Android.Strategies[1].Artifact),
		},
	}

	report, err := newTestDriver(t, cfg, runner).Build(context.Background(), packaging.Android)
	require.NoError(t, err)

	assert.Equal(t, "gradle", report.Strategy)
	assert.False(t, report.Placeholder)
	assert.Equal(t, []string{"npm run build", "npx cap sync android", "./gradlew assembleRelease"}, runner.calls)

	failed := report.Failures()
	require.Len(t, failed, 1)
	assert.Equal(t, "capacitor", failed[0].Strategy)
	assert.Equal(t, "cap sync", failed[0].Stage)
	assert.Equal(t, 1, failed[0].ExitCode)
	assert.Contains(t, failed[0].Output, "failed")
}

func TestBuildFallsBackToPlaceholder(t *testing.T) {
	cfg := testConfig(t)
	// Every stage "succeeds" but no strategy leaves an artifact behind.
	runner := &fakeRunner{}

	report, err := newTestDriver(t, cfg, runner).Build(context.Background(), packaging.Android)
	require.NoError(t, err)

	assert.Equal(t, PlaceholderStrategy, report.Strategy)
	assert.True(t, report.Placeholder)
	assert.True(t, report.Artifact.Placeholder)
	assert.Len(t, runner.calls, 4)

	require.Len(t, report.Paths, 2)
	data, err := os.ReadFile(report.Paths[1])
	require.NoError(t, err)
	assert.True(t, packaging.IsPlaceholder(packaging.Android, packaging.AppInfo{Name: cfg.App.Name}, data))
	assert.Equal(t, len(data), report.Artifact.Size)

	a, err := zip.InspectBytes(data)
	require.NoError(t, err)
	assert.NoError(t, a.Verify())

	readme := readFile(t, downloads(cfg, cfg.Paths.PublicDir, "README.txt"))
	assert.Contains(t, readme, "[placeholder]")
	assert.Contains(t, readme, "NOTE")
}

func TestBuildPlaceholderDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Placeholder.Enabled = false
	runner := &fakeRunner{fail: map[string]error{"npm run build": &ExitError{Code: 2}}}

	report, err := newTestDriver(t, cfg, runner).Build(context.Background(), packaging.Android)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllStagesFailed)
	// The gradle strategy ran cleanly but produced nothing.
	assert.ErrorIs(t, err, ErrArtifactMissing)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "capacitor", stageErr.Strategy)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)

	assert.False(t, report.Placeholder)
	assert.Empty(t, report.Paths)
	_, statErr := os.Stat(downloads(cfg, cfg.Paths.PublicDir, "WorkerConnect.apk"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildNoStrategies(t *testing.T) {
	cfg := testConfig(t)
	cfg.IOS.Strategies = nil
	cfg.Placeholder.Enabled = false

	_, err := newTestDriver(t, cfg, &fakeRunner{}).Build(context.Background(), packaging.IOS)
	assert.ErrorIs(t, err, ErrNoStrategies)

	cfg.Placeholder.Enabled = true
	report, err := newTestDriver(t, cfg, &fakeRunner{}).Build(context.Background(), packaging.IOS)
	require.NoError(t, err)
	assert.True(t, report.Placeholder)
	assert.Equal(t, "WorkerConnect.ipa", report.Artifact.FileName)
}

func TestBuildCanceled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestDriver(t, cfg, &fakeRunner{}).Build(ctx, packaging.IOS)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	require.Len(t, report.Stages, 1)
	assert.Equal(t, -1, report.Stages[0].ExitCode)
	assert.False(t, report.Placeholder)
}

func TestBuildUnknownPlatform(t *testing.T) {
	_, err := newTestDriver(t, testConfig(t), &fakeRunner{}).Build(context.Background(), packaging.Platform("tizen"))
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestAssets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Placeholder.CRC = "zero"
	runner := &fakeRunner{}

	reports, err := newTestDriver(t, cfg, runner).Assets(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Empty(t, runner.calls)

	for _, r := range reports {
		assert.Equal(t, "build-1", r.BuildID)
		assert.True(t, r.Placeholder)
		require.Len(t, r.Paths, 2)
	}

	ipa, err := os.ReadFile(downloads(cfg, cfg.Paths.DistDir, "WorkerConnect.ipa"))
	require.NoError(t, err)
	a, err := zip.InspectBytes(ipa)
	require.NoError(t, err)
	plist, err := a.Lookup("Payload/WorkerConnect.app/Info.plist")
	require.NoError(t, err)
	status, err := a.CheckCRC(plist)
	require.NoError(t, err)
	assert.Equal(t, zip.CRCNotSet, status)

	index := readFile(t, downloads(cfg, cfg.Paths.PublicDir, "index.html"))
	assert.Contains(t, index, "WorkerConnect.apk")
	assert.Contains(t, index, "WorkerConnect.ipa")
}

func TestDocsListEveryPublishedPackage(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDriver(t, cfg, &fakeRunner{create: map[string]string{
		"./gradlew assembleDebug": cfg.Resolve(cfg.Android.Strategies[0].Artifact),
	}})

	_, err := d.Assets(context.Background())
	require.NoError(t, err)
	_, err = d.Build(context.Background(), packaging.Android)
	require.NoError(t, err)

	readme := readFile(t, downloads(cfg, cfg.Paths.PublicDir, "README.txt"))
	assert.Contains(t, readme, "WorkerConnect.apk  14 bytes\n")
	assert.Contains(t, readme, "WorkerConnect.ipa")
	assert.Contains(t, readme, "[placeholder]")
}

func TestDocsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Placeholder.Docs = false

	_, err := newTestDriver(t, cfg, &fakeRunner{}).Assets(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(downloads(cfg, cfg.Paths.PublicDir, "index.html"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(downloads(cfg, cfg.Paths.PublicDir, "WorkerConnect.apk"))
	assert.NoError(t, statErr)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 10))
	assert.Equal(t, "uild", tail("gradle build", 4))

	// "कार्य" is three bytes per rune; cutting 4 bytes from the end lands
	// inside a rune and must move forward to the next boundary.
	out := "error: कार्य"
	got := tail(out, 4)
	assert.True(t, utf8.ValidString(got), "got %q", got)
	assert.Equal(t, "य", got)
	assert.Equal(t, "", tail("\xe0\xa4\x95", 2))
}
