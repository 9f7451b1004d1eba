// Package batch accepts novel identifier batches, persists them for crash
// recovery, dispatches each new identifier to the worker pool and records
// terminal classifications in the ledger.
package batch

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Store persists the in-flight batch so a restart can resume it. The file
// holds the full submitted identifier list; already-classified identifiers
// are skipped again on resume, so no per-job bookkeeping is needed here.
type Store struct {
	path string
}

type batchRecord struct {
	Identifiers []string `json:"identifiers"`
}

// NewStore builds a Store writing at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save writes the batch identifier list, replacing any previous one.
func (s *Store) Save(ids []string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return errors.Wrap(err, "create batch dir")
	}
	data, err := json.MarshalIndent(batchRecord{Identifiers: ids}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode batch")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write batch")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "replace batch")
	}
	return nil
}

// Load returns the persisted batch, or nil when none is pending.
func (s *Store) Load() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read batch")
	}
	var rec batchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "decode batch")
	}
	return rec.Identifiers, nil
}

// Delete removes the persisted batch after it finished.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "delete batch")
	}
	return nil
}
