// Package job executes one novel end to end inside a worker slot:
// metadata resolution, concurrent item fetch, the integrity gate, grouped
// packaging and spool cleanup. It owns no shared state; classification of
// its errors is the batch manager's job.
package job

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/novel"
	"github.com/1k-7/LNreqnw/internal/packager"
	"github.com/1k-7/LNreqnw/internal/progress"
	"github.com/1k-7/LNreqnw/internal/source"
)

// Config controls Runner behavior.
type Config struct {
	// DownloadDir is the root for per-job spool dirs and finished artifacts.
	DownloadDir string
	// FetchConcurrency bounds the per-job item fetch fan-out.
	FetchConcurrency int
	// ReportInterval throttles progress emissions.
	ReportInterval time.Duration
	// PackByVolume splits packaging into one artifact per volume.
	PackByVolume bool
}

// SourceProvider resolves an identifier to a job-scoped source adapter.
// *source.Registry is the production implementation.
type SourceProvider interface {
	For(rawURL string) (source.Source, error)
}

// PackagerFactory builds the packager for one job. coverPath is empty when
// no cover was fetched.
type PackagerFactory func(coverPath string) packager.Packager

// Runner executes the per-novel pipeline.
type Runner struct {
	sources     SourceProvider
	newPackager PackagerFactory
	halt        *Halt
	cfg         Config
	logger      *zap.Logger
}

// NewRunner constructs a Runner. A nil factory defaults to the zip
// packager.
func NewRunner(sources SourceProvider, factory PackagerFactory, halt *Halt, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if factory == nil {
		factory = func(coverPath string) packager.Packager {
			return &packager.ZipPackager{CoverPath: coverPath}
		}
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}
	return &Runner{
		sources:     sources,
		newPackager: factory,
		halt:        halt,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run drives one identifier through the pipeline. It returns the artifact
// paths on success, an empty slice when packaging intentionally produced
// nothing, or a marked sentinel error for the terminal classifications.
// All job-scoped resources are released on every exit path.
func (r *Runner) Run(ctx context.Context, id string, prog *progress.Channel) ([]string, error) {
	r.logger.Debug("job accepted",
		zap.String("identifier", id),
		zap.String("status", string(novel.StatusPending)),
	)
	rep := progress.NewReporter(prog, r.cfg.ReportInterval)
	rep.Force("Fetching info...")

	src, err := r.sources.For(id)
	if err != nil {
		return nil, errors.Wrap(err, "select source")
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			r.logger.Warn("source close failed", zap.String("identifier", id), zap.Error(cerr))
		}
	}()

	n, err := src.ResolveMetadata(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "resolve metadata")
	}
	if len(n.Chapters) == 0 {
		return nil, errors.Wrapf(novel.ErrNoContent, "resolve %s", id)
	}

	spoolDir := r.spoolDir(id, n.Title)
	defer func() {
		if err := os.RemoveAll(spoolDir); err != nil {
			r.logger.Warn("spool cleanup failed", zap.String("dir", spoolDir), zap.Error(err))
		}
	}()

	coverPath := r.fetchCover(ctx, src, n, spoolDir)

	total := len(n.Chapters)
	r.logger.Debug("fetch started",
		zap.String("identifier", id),
		zap.String("status", string(novel.StatusFetching)),
		zap.Int("chapters", total),
	)
	rep.Force(fmt.Sprintf("Downloading %d chapters...", total))

	halted, err := r.fetchAll(ctx, src, n, spoolDir, rep)
	if err != nil {
		return nil, err
	}
	if halted {
		r.logger.Info("job halted",
			zap.String("identifier", id),
			zap.String("status", string(novel.StatusHalted)),
		)
		return nil, errors.Wrapf(novel.ErrHalted, "fetch of %s", id)
	}

	// Integrity gate: an incomplete fetch never reaches packaging.
	if failed := n.Failed(); len(failed) > 0 {
		r.logger.Error("fetch incomplete",
			zap.String("identifier", id),
			zap.String("status", string(novel.StatusFailed)),
			zap.Int("failed", len(failed)),
			zap.Int("total", total),
		)
		return nil, errors.Wrapf(novel.ErrIncomplete, "%d/%d items failed", len(failed), total)
	}
	r.logger.Debug("fetch complete",
		zap.String("identifier", id),
		zap.String("status", string(novel.StatusCompleted)),
	)

	rep.Force("Packaging...")
	return r.packageAll(ctx, n, spoolDir, coverPath)
}

// fetchAll downloads every item with bounded fan-out, spooling bodies to
// disk as they land. It reports halted=true when the halt signal or ctx
// stopped the fetch before completion.
func (r *Runner) fetchAll(
	ctx context.Context,
	src source.Source,
	n *novel.Novel,
	spoolDir string,
	rep *progress.Reporter,
) (bool, error) {
	total := len(n.Chapters)
	sem := make(chan struct{}, r.cfg.FetchConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	halted := false
	for _, ch := range n.Chapters {
		if r.halt.Raised() || ctx.Err() != nil {
			halted = true
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(ch *novel.Chapter) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := src.FetchItem(ctx, ch); err != nil {
				r.logger.Debug("item fetch failed", zap.Int("chapter", ch.ID), zap.Error(err))
			}
			if err := source.SpoolItem(spoolDir, ch); err != nil {
				ch.Success = false
				r.logger.Warn("spool write failed", zap.Int("chapter", ch.ID), zap.Error(err))
			}
			mu.Lock()
			done++
			rep.Report(fmt.Sprintf("%d%% (%d/%d)", done*100/total, done, total))
			mu.Unlock()
		}(ch)
	}
	wg.Wait()

	if halted || r.halt.Raised() {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, errors.Wrap(err, "fetch items")
	}
	return false, nil
}

// packageAll builds one artifact per grouping, loading each grouping from
// the spool just before packaging and releasing it right after, so peak
// memory stays near one grouping's worth of content. Every grouping's
// artifact is returned for delivery.
func (r *Runner) packageAll(ctx context.Context, n *novel.Novel, spoolDir, coverPath string) ([]string, error) {
	groups := packager.GroupChapters(n, r.cfg.PackByVolume)
	pack := r.newPackager(coverPath)
	outDir := filepath.Join(r.cfg.DownloadDir, "artifacts")

	var artifacts []string
	for _, group := range groups {
		if r.halt.Raised() || ctx.Err() != nil {
			removeAll(artifacts)
			r.logger.Info("job halted",
				zap.String("identifier", n.URL),
				zap.String("status", string(novel.StatusHalted)),
			)
			return nil, errors.Wrapf(novel.ErrHalted, "packaging of %s", n.URL)
		}
		for _, ch := range group.Chapters {
			if err := source.LoadItem(spoolDir, ch); err != nil {
				r.logger.Warn("spool reload failed", zap.Int("chapter", ch.ID), zap.Error(err))
			}
		}
		path, err := pack.Package(ctx, n, group, outDir)
		for _, ch := range group.Chapters {
			ch.Body = ""
		}
		if err != nil {
			removeAll(artifacts)
			return nil, errors.Wrapf(err, "package group %s", group.Name)
		}
		if path != "" {
			artifacts = append(artifacts, path)
		}
	}

	if len(artifacts) == 0 {
		return nil, errors.Wrapf(novel.ErrNoArtifact, "package %s", n.URL)
	}
	return artifacts, nil
}

func (r *Runner) fetchCover(ctx context.Context, src source.Source, n *novel.Novel, spoolDir string) string {
	if !src.Capabilities().Cover || n.CoverURL == "" {
		return ""
	}
	cf, ok := src.(source.CoverFetcher)
	if !ok {
		return ""
	}
	data, err := cf.FetchCover(ctx, n.CoverURL)
	if err != nil {
		r.logger.Debug("cover fetch failed", zap.String("url", n.CoverURL), zap.Error(err))
		return ""
	}
	if err := os.MkdirAll(spoolDir, 0o750); err != nil {
		return ""
	}
	path := filepath.Join(spoolDir, "cover.jpg")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return ""
	}
	return path
}

func (r *Runner) spoolDir(id, title string) string {
	host := "unknown"
	if u, err := url.Parse(id); err == nil && u.Hostname() != "" {
		host = strings.TrimPrefix(u.Hostname(), "www.")
	}
	return filepath.Join(r.cfg.DownloadDir, dirSlug(host), dirSlug(title))
}

func removeAll(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

var dirSlugPattern = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func dirSlug(s string) string {
	s = dirSlugPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 60 {
		s = strings.Trim(s[:60], "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}
