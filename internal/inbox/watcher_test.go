package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collectSubmitter struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *collectSubmitter) ProcessBatch(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, ids)
	return nil
}

func (c *collectSubmitter) snapshot() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.batches))
	copy(out, c.batches)
	return out
}

func TestParseFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"identifiers":["https://a.example/1","https://a.example/2"]}`), 0o600))

	ids, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/1", "https://a.example/2"}, ids)
}

func TestParseFileLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.txt")
	content := "https://a.example/1\n\n# comment\nhttps://a.example/2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	ids, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/1", "https://a.example/2"}, ids)
}

func TestRunPicksUpExistingAndDroppedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), []byte("https://a.example/old\n"), 0o600))

	sub := &collectSubmitter{}
	w := New(dir, sub, zap.NewNop())
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	// The pre-existing file is swept on startup.
	assert.Eventually(t, func() bool { return len(sub.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"https://a.example/old"}, sub.snapshot()[0])

	// A newly dropped file is picked up and removed.
	dropped := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(dropped, []byte("https://a.example/new\n"), 0o600))
	assert.Eventually(t, func() bool { return len(sub.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	assert.NoFileExists(t, dropped)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestRunRemovesJunkFiles(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.txt")
	require.NoError(t, os.WriteFile(junk, []byte("# only comments\n"), 0o600))

	sub := &collectSubmitter{}
	w := New(dir, sub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(junk)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, sub.snapshot())
}
