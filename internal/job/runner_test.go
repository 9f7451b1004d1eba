package job

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/novel"
	"github.com/1k-7/LNreqnw/internal/packager"
	"github.com/1k-7/LNreqnw/internal/progress"
	"github.com/1k-7/LNreqnw/internal/source"
)

type fakeSource struct {
	mu         sync.Mutex
	chapters   int
	volumes    int
	failIDs    map[int]bool
	resolveErr error
	caps       source.Capability
	cover      []byte
	fetched    int
	closed     bool
}

func (f *fakeSource) ResolveMetadata(_ context.Context, rawURL string) (*novel.Novel, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	n := &novel.Novel{
		URL:      rawURL,
		Title:    "Test Novel",
		CoverURL: "https://example.com/cover.jpg",
	}
	for v := 1; v <= f.volumes; v++ {
		n.Volumes = append(n.Volumes, novel.Volume{ID: v, Title: fmt.Sprintf("Volume %d", v)})
	}
	for i := 1; i <= f.chapters; i++ {
		ch := &novel.Chapter{
			ID:    i,
			Title: fmt.Sprintf("Chapter %d", i),
			URL:   fmt.Sprintf("%s/chapter-%d", rawURL, i),
		}
		if f.volumes > 0 {
			ch.Volume = (i-1)*f.volumes/f.chapters + 1
		}
		n.Chapters = append(n.Chapters, ch)
	}
	return n, nil
}

func (f *fakeSource) FetchItem(_ context.Context, ch *novel.Chapter) error {
	f.mu.Lock()
	f.fetched++
	f.mu.Unlock()
	if f.failIDs[ch.ID] {
		ch.Success = false
		return errors.New("fetch failed")
	}
	ch.Body = fmt.Sprintf("<p>body of chapter %d</p>", ch.ID)
	ch.Success = true
	return nil
}

func (f *fakeSource) Capabilities() source.Capability { return f.caps }

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSource) FetchCover(context.Context, string) ([]byte, error) {
	return f.cover, nil
}

type fakeProvider struct {
	src *fakeSource
	err error
}

func (p *fakeProvider) For(string) (source.Source, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.src, nil
}

type stubPackager struct {
	path string
	err  error
}

func (s *stubPackager) Package(context.Context, *novel.Novel, packager.Group, string) (string, error) {
	return s.path, s.err
}

func newTestRunner(t *testing.T, src *fakeSource, factory PackagerFactory) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		DownloadDir:      dir,
		FetchConcurrency: 4,
		ReportInterval:   time.Millisecond,
	}
	return NewRunner(&fakeProvider{src: src}, factory, &Halt{}, cfg, zap.NewNop()), dir
}

func TestRunProducesArtifact(t *testing.T) {
	src := &fakeSource{chapters: 5}
	r, dir := newTestRunner(t, src, nil)
	prog := progress.NewChannel(16, nil)

	paths, err := r.Run(context.Background(), "https://www.fanmtl.com/novel/test.html", prog)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.FileExists(t, paths[0])
	assert.Equal(t, 5, src.fetched)
	assert.True(t, src.closed)

	// The per-job spool dir is gone, the artifact stays.
	assert.NoDirExists(t, filepath.Join(dir, "fanmtl.com", "Test-Novel"))

	text, ok := prog.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "Fetching info...", text)
}

func TestRunNoChaptersIsNoContent(t *testing.T) {
	r, _ := newTestRunner(t, &fakeSource{chapters: 0}, nil)

	_, err := r.Run(context.Background(), "https://www.fanmtl.com/novel/empty.html", nil)
	assert.ErrorIs(t, err, novel.ErrNoContent)
}

func TestRunFailedItemBlocksPackaging(t *testing.T) {
	src := &fakeSource{chapters: 4, failIDs: map[int]bool{3: true}}
	r, _ := newTestRunner(t, src, func(string) packager.Packager {
		t.Fatal("packager must not be built for an incomplete fetch")
		return nil
	})

	_, err := r.Run(context.Background(), "https://www.fanmtl.com/novel/partial.html", nil)
	assert.ErrorIs(t, err, novel.ErrIncomplete)
}

func TestRunHaltedBeforeFetch(t *testing.T) {
	src := &fakeSource{chapters: 3}
	halt := &Halt{}
	halt.Raise()
	cfg := Config{DownloadDir: t.TempDir(), FetchConcurrency: 2}
	r := NewRunner(&fakeProvider{src: src}, nil, halt, cfg, zap.NewNop())

	_, err := r.Run(context.Background(), "https://www.fanmtl.com/novel/halted.html", nil)
	assert.ErrorIs(t, err, novel.ErrHalted)
	assert.Zero(t, src.fetched)
}

func TestRunCancelledContext(t *testing.T) {
	src := &fakeSource{chapters: 3}
	r, _ := newTestRunner(t, src, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, "https://www.fanmtl.com/novel/cancelled.html", nil)
	assert.ErrorIs(t, err, novel.ErrHalted)
}

func TestRunEmptyPackagingIsNoArtifact(t *testing.T) {
	src := &fakeSource{chapters: 2}
	r, _ := newTestRunner(t, src, func(string) packager.Packager {
		return &stubPackager{}
	})

	_, err := r.Run(context.Background(), "https://www.fanmtl.com/novel/blank.html", nil)
	assert.ErrorIs(t, err, novel.ErrNoArtifact)
}

func TestRunResolveErrorIsTransient(t *testing.T) {
	src := &fakeSource{resolveErr: errors.New("boom")}
	r, _ := newTestRunner(t, src, nil)

	_, err := r.Run(context.Background(), "https://www.fanmtl.com/novel/broken.html", nil)
	require.Error(t, err)
	assert.Equal(t, novel.OutcomeTransient, novel.ClassifyError(err))
}

func TestRunFetchesCoverWhenSupported(t *testing.T) {
	src := &fakeSource{
		chapters: 2,
		caps:     source.Capability{Cover: true},
		cover:    []byte("jpeg-bytes"),
	}
	var gotCover string
	r, _ := newTestRunner(t, src, func(coverPath string) packager.Packager {
		gotCover = coverPath
		return &stubPackager{path: "x"}
	})

	paths, err := r.Run(context.Background(), "https://www.fanmtl.com/novel/covered.html", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, paths)
	assert.NotEmpty(t, gotCover)
	assert.Equal(t, "cover.jpg", filepath.Base(gotCover))
}

// TestRunPacksOneArtifactPerVolume returns every volume's artifact, not
// just the first.
func TestRunPacksOneArtifactPerVolume(t *testing.T) {
	src := &fakeSource{chapters: 4, volumes: 2}
	cfg := Config{
		DownloadDir:      t.TempDir(),
		FetchConcurrency: 4,
		ReportInterval:   time.Millisecond,
		PackByVolume:     true,
	}
	r := NewRunner(&fakeProvider{src: src}, nil, &Halt{}, cfg, zap.NewNop())

	paths, err := r.Run(context.Background(), "https://www.fanmtl.com/novel/volumes.html", nil)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
	assert.NotEqual(t, paths[0], paths[1])
}

func TestDirSlug(t *testing.T) {
	assert.Equal(t, "fanmtl.com", dirSlug("fanmtl.com"))
	assert.Equal(t, "My-Novel-Title", dirSlug("My Novel? Title!"))
	assert.Equal(t, "untitled", dirSlug("???"))
}
