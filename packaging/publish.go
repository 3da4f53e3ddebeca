package packaging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sagenxt/WorkerConnect-sub001/logging"
)

// Paths are the explicit output locations. Relative PublicDir and DistDir
// are resolved against ProjectRoot.
type Paths struct {
	ProjectRoot string
	PublicDir   string
	DistDir     string
	Downloads   string
}

// DownloadDirs returns the directories every published file is written to.
func (p Paths) DownloadDirs() []string {
	dirs := make([]string, 0, 2)
	for _, d := range []string{p.PublicDir, p.DistDir} {
		if d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			d = filepath.Join(p.ProjectRoot, d)
		}
		dirs = append(dirs, filepath.Join(d, p.Downloads))
	}
	return dirs
}

// Publisher writes the same bytes into every download directory.
type Publisher struct {
	paths  Paths
	logger *zap.Logger
}

func NewPublisher(paths Paths, logger *zap.Logger) *Publisher {
	return &Publisher{paths: paths, logger: logging.OrNop(logger)}
}

// Paths returns the publisher's output locations.
func (p *Publisher) Paths() Paths {
	return p.paths
}

// Publish writes data as name into each download directory and returns the
// written paths. Both copies are written concurrently; a failure in one
// cancels the other.
func (p *Publisher) Publish(ctx context.Context, name string, data []byte) ([]string, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("packaging: invalid file name %q", name)
	}
	dirs := p.paths.DownloadDirs()
	if len(dirs) == 0 {
		return nil, fmt.Errorf("packaging: no output directories configured")
	}

	written := make([]string, len(dirs))
	g, ctx := errgroup.WithContext(ctx)
	for i, dir := range dirs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, name)
			if err := writeFileAtomic(path, data); err != nil {
				return err
			}
			written[i] = path
			p.logger.Debug("published file", zap.String("path", path), zap.Int("bytes", len(data)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Info("published", zap.String("file", name), zap.Strings("paths", written))
	return written, nil
}

// PublishFile copies an existing build output under the given name.
func (p *Publisher) PublishFile(ctx context.Context, src, name string) ([]string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("packaging: read artifact: %w", err)
	}
	return p.Publish(ctx, name, data)
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place, so readers never see a partial package.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("packaging: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("packaging: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("packaging: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("packaging: write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("packaging: chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("packaging: rename into %s: %w", path, err)
	}
	return nil
}
