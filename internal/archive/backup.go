// Package archive snapshots the persisted service state and ships it to the
// archive destination on a schedule, so a lost data volume costs at most
// one interval of classifications.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/notify"
)

// Archiver zips the state files under DataDir and uploads the snapshot.
type Archiver struct {
	dataDir  string
	notifier notify.Notifier
	dest     notify.Destination
	logger   *zap.Logger
	now      func() time.Time
}

// New builds an Archiver shipping snapshots to dest.
func New(dataDir string, notifier notify.Notifier, dest notify.Destination, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		dataDir:  dataDir,
		notifier: notifier,
		dest:     dest,
		logger:   logger,
		now:      time.Now,
	}
}

// Snapshot zips the top-level JSON state files, uploads the archive and
// removes the local zip. The snapshot is skipped when there is no state.
func (a *Archiver) Snapshot(ctx context.Context) error {
	files, err := a.stateFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		a.logger.Debug("no state files to snapshot")
		return nil
	}

	name := fmt.Sprintf("state-%s.zip", a.now().UTC().Format("20060102-150405"))
	zipPath := filepath.Join(a.dataDir, name)
	if err := writeZip(zipPath, files); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(zipPath); err != nil {
			a.logger.Warn("snapshot zip not removed", zap.String("path", zipPath), zap.Error(err))
		}
	}()

	if _, err := a.notifier.SendFile(ctx, a.dest, zipPath, "State snapshot"); err != nil {
		return errors.Wrap(err, "upload snapshot")
	}
	a.logger.Info("state snapshot shipped", zap.String("archive", name), zap.Int("files", len(files)))
	return nil
}

// Run snapshots after an initial delay, then at every interval, until ctx
// ends. Failures are logged and the loop keeps going.
func (a *Archiver) Run(ctx context.Context, initialDelay, interval time.Duration) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := a.Snapshot(ctx); err != nil {
			a.logger.Error("state snapshot failed", zap.Error(err))
		}
		timer.Reset(interval)
	}
}

// stateFiles lists the top-level .json files in the data dir. Download
// spools and other subdirectories are not state and stay out.
func (a *Archiver) stateFiles() ([]string, error) {
	entries, err := os.ReadDir(a.dataDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read data dir")
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(a.dataDir, e.Name()))
	}
	return files, nil
}

func writeZip(path string, files []string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create snapshot zip")
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close snapshot zip")
		}
	}()

	zw := zip.NewWriter(out)
	for _, f := range files {
		if err := addFile(zw, f); err != nil {
			zw.Close()
			return err
		}
	}
	return errors.Wrap(zw.Close(), "finalize snapshot zip")
}

func addFile(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer in.Close()
	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return errors.Wrapf(err, "add %s", path)
	}
	if _, err := io.Copy(w, in); err != nil {
		return errors.Wrapf(err, "copy %s", path)
	}
	return nil
}
