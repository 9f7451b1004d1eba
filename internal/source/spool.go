package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/1k-7/LNreqnw/internal/novel"
)

// The spool holds fetched chapter bodies on disk between the fetch and
// packaging stages so peak memory stays bounded to one grouping.

// ItemPath returns the spool file for a chapter.
func ItemPath(spoolDir string, ch *novel.Chapter) string {
	return filepath.Join(spoolDir, "json", fmt.Sprintf("%05d.json", ch.ID))
}

// SpoolItem writes a chapter (including its body) to the spool and drops
// the in-memory body.
func SpoolItem(spoolDir string, ch *novel.Chapter) error {
	path := ItemPath(spoolDir, ch)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrap(err, "create spool dir")
	}
	raw, err := json.Marshal(ch)
	if err != nil {
		return errors.Wrapf(err, "encode chapter %d", ch.ID)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return errors.Wrapf(err, "write chapter %d", ch.ID)
	}
	ch.Body = ""
	return nil
}

// LoadItem restores a chapter body from the spool. A missing file leaves
// the body empty rather than failing, matching how packaging tolerates
// partial reloads.
func LoadItem(spoolDir string, ch *novel.Chapter) error {
	raw, err := os.ReadFile(ItemPath(spoolDir, ch))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read chapter %d", ch.ID)
	}
	var stored novel.Chapter
	if err := json.Unmarshal(raw, &stored); err != nil {
		return errors.Wrapf(err, "decode chapter %d", ch.ID)
	}
	ch.Body = stored.Body
	return nil
}
