// Package pipeline drives the native mobile builds for the web app.
//
// Each platform has an ordered list of strategies (Capacitor, then plain
// Gradle for Android). The first strategy whose stages all succeed and which
// leaves its artifact on disk wins. When every strategy fails the driver
// publishes a placeholder package instead, unless placeholders are disabled,
// in which case the stage errors are returned.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sagenxt/WorkerConnect-sub001/config"
	"github.com/sagenxt/WorkerConnect-sub001/logging"
	"github.com/sagenxt/WorkerConnect-sub001/packaging"
	"github.com/sagenxt/WorkerConnect-sub001/zip"
)

// PlaceholderStrategy is the Report.Strategy of a fabricated package.
const PlaceholderStrategy = "placeholder"

// StageResult records one stage attempt.
type StageResult struct {
	Strategy string
	Stage    string
	Command  string
	ExitCode int
	Duration time.Duration
	Output   string
	Err      error
}

// Report describes one platform build.
type Report struct {
	BuildID     string
	Platform    packaging.Platform
	Strategy    string // winning strategy, or PlaceholderStrategy
	Stages      []StageResult
	Artifact    packaging.Artifact
	Paths       []string // published copies
	Placeholder bool
}

// Failures returns the stages that did not succeed.
func (r *Report) Failures() []StageResult {
	var failed []StageResult
	for _, s := range r.Stages {
		if s.Err != nil {
			failed = append(failed, s)
		}
	}
	return failed
}

// Driver runs builds against one project configuration.
type Driver struct {
	cfg       *config.Config
	runner    Runner
	publisher *packaging.Publisher
	logger    *zap.Logger
	newID     func() string
}

func NewDriver(cfg *config.Config, runner Runner, logger *zap.Logger) *Driver {
	logger = logging.OrNop(logger)
	paths := packaging.Paths{
		ProjectRoot: cfg.Paths.Root,
		PublicDir:   cfg.Paths.PublicDir,
		DistDir:     cfg.Paths.DistDir,
		Downloads:   cfg.Paths.Downloads,
	}
	return &Driver{
		cfg:       cfg,
		runner:    runner,
		publisher: packaging.NewPublisher(paths, logger),
		logger:    logger,
		newID:     uuid.NewString,
	}
}

func (d *Driver) app() packaging.AppInfo {
	return packaging.AppInfo{
		Name:     d.cfg.App.Name,
		ID:       d.cfg.App.ID,
		Version:  d.cfg.App.Version,
		BuildNum: d.cfg.App.BuildNum,
	}
}

func (d *Driver) platformConfig(p packaging.Platform) (config.PlatformConfig, error) {
	switch p {
	case packaging.Android:
		return d.cfg.Android, nil
	case packaging.IOS:
		return d.cfg.IOS, nil
	default:
		return config.PlatformConfig{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
}

// Build produces and publishes a package for one platform.
func (d *Driver) Build(ctx context.Context, p packaging.Platform) (*Report, error) {
	pc, err := d.platformConfig(p)
	if err != nil {
		return nil, err
	}

	report := &Report{BuildID: d.newID(), Platform: p}
	log := d.logger.With(zap.String("build_id", report.BuildID), zap.String("platform", string(p)))
	log.Info("build started", zap.Int("strategies", len(pc.Strategies)))

	var failures []error
	for _, s := range pc.Strategies {
		artifact, err := d.runStrategy(ctx, log, report, s)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			failures = append(failures, err)
			log.Warn("strategy failed", zap.String("strategy", s.Name), zap.Error(err))
			continue
		}

		if err := d.publishArtifact(ctx, report, s.Name, artifact); err != nil {
			return report, err
		}
		log.Info("build finished", zap.String("strategy", s.Name), zap.Strings("paths", report.Paths))
		return report, d.publishDocs(ctx, log)
	}

	if !d.cfg.Placeholder.Enabled {
		if len(failures) == 0 {
			return report, ErrNoStrategies
		}
		return report, fmt.Errorf("%w: %w", ErrAllStagesFailed, errors.Join(failures...))
	}

	log.Warn("native build unavailable, publishing placeholder package", zap.Int("failed_strategies", len(failures)))
	if err := d.publishPlaceholder(ctx, report); err != nil {
		return report, err
	}
	log.Info("build finished", zap.String("strategy", PlaceholderStrategy), zap.Strings("paths", report.Paths))
	return report, d.publishDocs(ctx, log)
}

// Assets publishes placeholder packages for every platform plus the install
// docs, without touching any toolchain.
func (d *Driver) Assets(ctx context.Context) ([]*Report, error) {
	id := d.newID()
	log := d.logger.With(zap.String("build_id", id))

	reports := make([]*Report, 0, len(packaging.Platforms))
	for _, p := range packaging.Platforms {
		report := &Report{BuildID: id, Platform: p}
		if err := d.publishPlaceholder(ctx, report); err != nil {
			return reports, err
		}
		log.Info("placeholder published", zap.String("platform", string(p)), zap.Int("bytes", report.Artifact.Size))
		reports = append(reports, report)
	}
	return reports, d.publishDocs(ctx, log)
}

func (d *Driver) runStrategy(ctx context.Context, log *zap.Logger, report *Report, s config.StrategyConfig) (string, error) {
	for _, st := range s.Stages {
		cmd := Command{
			Binary:  st.Command,
			Args:    st.Args,
			Dir:     d.cfg.Resolve(st.Dir),
			Timeout: st.StageTimeout(),
		}
		log.Info("stage started", zap.String("strategy", s.Name), zap.String("stage", st.Name), zap.Stringer("cmd", cmd))

		res, err := d.runner.Run(ctx, cmd)
		sr := StageResult{Strategy: s.Name, Stage: st.Name, Command: cmd.String(), ExitCode: -1, Err: err}
		if res != nil {
			sr.ExitCode = res.ExitCode
			sr.Duration = res.Duration
			sr.Output = res.Output
		}
		report.Stages = append(report.Stages, sr)

		if err != nil {
			log.Error("stage failed",
				zap.String("strategy", s.Name),
				zap.String("stage", st.Name),
				zap.Int("exit_code", sr.ExitCode),
				zap.String("output", tail(sr.Output, 2048)),
				zap.Error(err))
			return "", &StageError{Strategy: s.Name, Stage: st.Name, Err: err}
		}
		log.Debug("stage finished", zap.String("stage", st.Name), zap.Duration("took", sr.Duration))
	}

	if s.Artifact == "" {
		return "", &StageError{Strategy: s.Name, Stage: "artifact", Err: ErrArtifactMissing}
	}
	artifact := d.cfg.Resolve(s.Artifact)
	info, err := os.Stat(artifact)
	if err != nil || info.IsDir() {
		return "", &StageError{Strategy: s.Name, Stage: "artifact", Err: fmt.Errorf("%w: %s", ErrArtifactMissing, artifact)}
	}
	return artifact, nil
}

func (d *Driver) publishArtifact(ctx context.Context, report *Report, strategy, artifact string) error {
	name := d.app().FileName(report.Platform)
	paths, err := d.publisher.PublishFile(ctx, artifact, name)
	if err != nil {
		return err
	}
	info, err := os.Stat(paths[0])
	if err != nil {
		return fmt.Errorf("pipeline: stat published artifact: %w", err)
	}
	report.Strategy = strategy
	report.Paths = paths
	report.Artifact = packaging.Artifact{Platform: report.Platform, FileName: name, Size: int(info.Size())}
	return nil
}

func (d *Driver) zipOptions() (zip.Options, error) {
	mode, err := zip.ParseCRCMode(d.cfg.Placeholder.CRC)
	if err != nil {
		return zip.Options{}, err
	}
	return zip.Options{Modified: d.cfg.Placeholder.Modified(), CRC: mode}, nil
}

func (d *Driver) publishPlaceholder(ctx context.Context, report *Report) error {
	opts, err := d.zipOptions()
	if err != nil {
		return err
	}
	app := d.app()
	data, err := packaging.BuildPlaceholder(report.Platform, app, opts)
	if err != nil {
		return err
	}
	name := app.FileName(report.Platform)
	paths, err := d.publisher.Publish(ctx, name, data)
	if err != nil {
		return err
	}
	report.Strategy = PlaceholderStrategy
	report.Placeholder = true
	report.Paths = paths
	report.Artifact = packaging.Artifact{Platform: report.Platform, FileName: name, Size: len(data), Placeholder: true}
	return nil
}

// publishDocs lists every package currently in the public downloads, so a
// later single-platform build does not drop the other platform's entry.
func (d *Driver) publishDocs(ctx context.Context, log *zap.Logger) error {
	if !d.cfg.Placeholder.Docs {
		return nil
	}
	dirs := d.publisher.Paths().DownloadDirs()
	if len(dirs) == 0 {
		return nil
	}

	app := d.app()
	var artifacts []packaging.Artifact
	for _, p := range packaging.Platforms {
		name := app.FileName(p)
		data, err := os.ReadFile(filepath.Join(dirs[0], name))
		if err != nil {
			continue
		}
		artifacts = append(artifacts, packaging.Artifact{
			Platform:    p,
			FileName:    name,
			Size:        len(data),
			Placeholder: packaging.IsPlaceholder(p, app, data),
		})
	}

	docs, err := packaging.InstallDocs(app, artifacts)
	if err != nil {
		return err
	}
	if _, err := d.publisher.Publish(ctx, "index.html", docs.IndexHTML); err != nil {
		return err
	}
	if _, err := d.publisher.Publish(ctx, "README.txt", docs.Readme); err != nil {
		return err
	}
	log.Debug("install docs published", zap.Int("artifacts", len(artifacts)))
	return nil
}

// tail returns at most the last n bytes of s, starting on a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
