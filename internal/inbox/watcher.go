// Package inbox accepts batch files dropped into a watched directory. Each
// file carries a list of novel identifiers, either as JSON or one per line;
// a parsed file is submitted as a batch and removed.
package inbox

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Submitter runs one identifier batch to completion.
type Submitter interface {
	ProcessBatch(ctx context.Context, ids []string) error
}

// Watcher turns dropped files into batch submissions.
type Watcher struct {
	dir       string
	submitter Submitter
	logger    *zap.Logger
	// debounce coalesces the event burst a single file drop produces.
	debounce time.Duration
}

// New builds a Watcher over dir.
func New(dir string, submitter Submitter, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:       dir,
		submitter: submitter,
		logger:    logger,
		debounce:  200 * time.Millisecond,
	}
}

// Run watches the inbox until ctx ends. Files already present at startup
// are picked up first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return errors.Wrap(err, "create inbox dir")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return errors.Wrap(err, "watch inbox dir")
	}

	w.sweep(ctx)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending[e.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Stop()
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			for path := range pending {
				delete(pending, path)
				w.consume(ctx, path)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("inbox watcher error", zap.Error(err))
		}
	}
}

// sweep consumes files left in the inbox from before this start.
func (w *Watcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("inbox sweep failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.consume(ctx, filepath.Join(w.dir, e.Name()))
	}
}

// consume parses one dropped file, submits its identifiers and removes it.
// Unparseable or empty files are removed too, with a log line, so junk does
// not accumulate in the inbox.
func (w *Watcher) consume(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	ids, err := ParseFile(path)
	if err != nil {
		w.logger.Warn("inbox file rejected", zap.String("file", filepath.Base(path)), zap.Error(err))
	}
	if err := os.Remove(path); err != nil {
		w.logger.Warn("inbox file not removed", zap.String("file", filepath.Base(path)), zap.Error(err))
	}
	if len(ids) == 0 {
		return
	}
	w.logger.Info("inbox batch accepted",
		zap.String("file", filepath.Base(path)),
		zap.Int("identifiers", len(ids)),
	)
	if err := w.submitter.ProcessBatch(ctx, ids); err != nil {
		w.logger.Error("inbox batch failed", zap.String("file", filepath.Base(path)), zap.Error(err))
	}
}

type fileRecord struct {
	Identifiers []string `json:"identifiers"`
}

// ParseFile extracts identifiers from a dropped file. A JSON object with an
// identifiers array is preferred; anything else is read as one identifier
// per line, skipping blanks and # comments.
func ParseFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read inbox file")
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err == nil {
		return rec.Identifiers, nil
	}

	var ids []string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan inbox file")
	}
	return ids, nil
}
