// Package ledger tracks the permanent classification of every identifier
// the service has seen. It is the gate consulted before any batch work is
// scheduled: identifiers already completed or permanently classified are
// never retried until an operator clears them.
package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Stats is a point-in-time summary of ledger contents.
type Stats struct {
	Completed        int `json:"completed"`
	NoContent        int `json:"no_content"`
	GenerationFailed int `json:"generation_failed"`
	TransientErrors  int `json:"transient_errors"`
}

type fileRecord struct {
	Completed        []string          `json:"completed"`
	NoContent        []string          `json:"no_content"`
	GenerationFailed []string          `json:"generation_failed"`
	Errors           map[string]string `json:"errors"`
}

// Ledger is the durable classification store. All mutation happens under a
// single mutex and every mutating call persists before returning, so a
// crash can lose at most the operation in flight. An identifier is a member
// of at most one of the three classification sets at any time.
type Ledger struct {
	mu sync.Mutex

	path      string
	completed map[string]struct{}
	noContent map[string]struct{}
	genFailed map[string]struct{}
	errs      map[string]string

	logger *zap.Logger
}

// Open loads the ledger file at path, creating an empty ledger when the
// file does not exist yet.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		path:      path,
		completed: make(map[string]struct{}),
		noContent: make(map[string]struct{}),
		genFailed: make(map[string]struct{}),
		errs:      make(map[string]string),
		logger:    logger,
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, errors.Wrap(err, "read ledger file")
	}

	var rec fileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(err, "decode ledger file")
	}
	for _, id := range rec.Completed {
		l.completed[id] = struct{}{}
	}
	for _, id := range rec.NoContent {
		l.noContent[id] = struct{}{}
	}
	for _, id := range rec.GenerationFailed {
		l.genFailed[id] = struct{}{}
	}
	for id, msg := range rec.Errors {
		l.errs[id] = msg
	}
	logger.Info("ledger loaded",
		zap.String("path", path),
		zap.Int("completed", len(l.completed)),
		zap.Int("no_content", len(l.noContent)),
		zap.Int("generation_failed", len(l.genFailed)),
	)
	return l, nil
}

// IsResolved reports whether the identifier carries a permanent
// classification and should be skipped by new batches.
func (l *Ledger) IsResolved(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.completed[id]; ok {
		return true
	}
	if _, ok := l.noContent[id]; ok {
		return true
	}
	_, ok := l.genFailed[id]
	return ok
}

// MarkCompleted records a successful delivery. All failure markers for the
// identifier are cleared.
func (l *Ledger) MarkCompleted(id string) error {
	return l.classify(id, l.completed)
}

// MarkNoContent records that the source yielded zero extractable items.
func (l *Ledger) MarkNoContent(id string) error {
	return l.classify(id, l.noContent)
}

// MarkGenerationFailed records that packaging produced no artifact.
func (l *Ledger) MarkGenerationFailed(id string) error {
	return l.classify(id, l.genFailed)
}

func (l *Ledger) classify(id string, dest map[string]struct{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.completed, id)
	delete(l.noContent, id)
	delete(l.genFailed, id)
	delete(l.errs, id)
	dest[id] = struct{}{}
	return l.persistLocked()
}

// RecordError stores the latest transient error for an identifier. It does
// not block future retries and does not disturb permanent classifications.
func (l *Ledger) RecordError(id, msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[id] = msg
	return l.persistLocked()
}

// LastError returns the recorded transient error for an identifier, if any.
func (l *Ledger) LastError(id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg, ok := l.errs[id]
	return msg, ok
}

// RemoveCompleted clears the given identifiers from the completed set,
// making them eligible again. Returns how many were actually removed.
func (l *Ledger) RemoveCompleted(ids []string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := l.completed[id]; ok {
			delete(l.completed, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, l.persistLocked()
}

// Reset drops all state and removes the backing file.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = make(map[string]struct{})
	l.noContent = make(map[string]struct{})
	l.genFailed = make(map[string]struct{})
	l.errs = make(map[string]string)
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove ledger file")
	}
	return nil
}

// Snapshot returns current membership counts.
func (l *Ledger) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Completed:        len(l.completed),
		NoContent:        len(l.noContent),
		GenerationFailed: len(l.genFailed),
		TransientErrors:  len(l.errs),
	}
}

// Membership reports which sets (if any) hold the identifier. Used by tests
// and the status endpoint; at most one of the three booleans is true.
func (l *Ledger) Membership(id string) (completed, noContent, genFailed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, completed = l.completed[id]
	_, noContent = l.noContent[id]
	_, genFailed = l.genFailed[id]
	return completed, noContent, genFailed
}

// persistLocked writes the full record through a temp file and rename so a
// crash mid-write never truncates the live file. Caller holds l.mu.
func (l *Ledger) persistLocked() error {
	rec := fileRecord{
		Completed:        sortedKeys(l.completed),
		NoContent:        sortedKeys(l.noContent),
		GenerationFailed: sortedKeys(l.genFailed),
		Errors:           l.errs,
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode ledger")
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return errors.Wrap(err, "create ledger dir")
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrap(err, "write ledger temp file")
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrap(err, "replace ledger file")
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
