package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/novel"
)

func testOptions() Options {
	return Options{UserAgent: "lnreqnw-test", Timeout: 2 * time.Second, MaxRetries: 1}
}

// TestRegistryRouting maps hosts to factories and rejects unknown hosts.
func TestRegistryRouting(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testOptions(), zap.NewNop())

	s, err := r.For("https://www.fanmtl.com/novel/demo.html")
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.True(t, s.Capabilities().Cover)

	_, err = r.For("https://unknown.example.com/novel/1")
	assert.Error(t, err)

	_, err = r.For("not a url ::")
	assert.Error(t, err)
}

// TestSpoolRoundTrip writes a chapter body out and loads it back.
func TestSpoolRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ch := &novel.Chapter{ID: 12, Volume: 1, Title: "Twelve", Body: "<p>hello</p>", Success: true}

	require.NoError(t, SpoolItem(dir, ch))
	assert.Empty(t, ch.Body, "spooling releases the in-memory body")

	require.NoError(t, LoadItem(dir, ch))
	assert.Equal(t, "<p>hello</p>", ch.Body)
}

// TestSpoolLoadMissingFile leaves the body empty without failing.
func TestSpoolLoadMissingFile(t *testing.T) {
	t.Parallel()
	ch := &novel.Chapter{ID: 3}
	require.NoError(t, LoadItem(t.TempDir(), ch))
	assert.Empty(t, ch.Body)
}

const novelPage = `<html><head><meta property="og:title" content="Fallback"></head><body>
<h1 class="novel-title">Demo Novel</h1>
<div class="novel-info"><div class="author"><span itemprop="author">Someone</span></div></div>
<figure class="cover"><img src="/covers/demo.jpg"></figure>
<div class="summary"><div class="content">A demo.</div></div>
<ul class="chapter-list">
<li><a href="/novel/demo_1.html"><span class="chapter-title">Chapter 1</span></a></li>
<li><a href="/novel/demo_2.html"><span class="chapter-title">Chapter 2</span></a></li>
</ul>
</body></html>`

const chapterPage = `<html><body><div id="chapter-article">
<div class="chapter-content"><p>Chapter text.</p></div>
</div></body></html>`

func newFanMTL(t *testing.T) *FanMTL {
	t.Helper()
	s := NewFanMTL(testOptions(), zap.NewNop())
	f, ok := s.(*FanMTL)
	require.True(t, ok)
	return f
}

// TestFanMTLResolveMetadata parses title, author, cover and chapters from a
// local fixture server.
func TestFanMTLResolveMetadata(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(novelPage))
	}))
	defer srv.Close()

	f := newFanMTL(t)
	n, err := f.ResolveMetadata(context.Background(), srv.URL+"/novel/demo.html")
	require.NoError(t, err)

	assert.Equal(t, "Demo Novel", n.Title)
	assert.Equal(t, "Someone", n.Author)
	assert.Contains(t, n.CoverURL, "/covers/demo.jpg")
	require.Len(t, n.Chapters, 2)
	assert.Equal(t, 1, n.Chapters[0].ID)
	assert.Equal(t, "Chapter 1", n.Chapters[0].Title)

	u, err := url.Parse(n.Chapters[1].URL)
	require.NoError(t, err)
	assert.Equal(t, "/novel/demo_2.html", u.Path)
}

// TestFanMTLFetchItem covers the success, 404-placeholder and failure paths.
func TestFanMTLFetchItem(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(chapterPage))
		case "/missing":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := newFanMTL(t)

	ok := &novel.Chapter{ID: 1, URL: srv.URL + "/ok"}
	require.NoError(t, f.FetchItem(context.Background(), ok))
	assert.True(t, ok.Success)
	assert.Contains(t, ok.Body, "Chapter text.")

	missing := &novel.Chapter{ID: 2, URL: srv.URL + "/missing"}
	require.NoError(t, f.FetchItem(context.Background(), missing))
	assert.True(t, missing.Success, "a hard 404 is a broken link, not a retryable failure")
	assert.Contains(t, missing.Body, "404")

	broken := &novel.Chapter{ID: 3, URL: srv.URL + "/boom"}
	err := f.FetchItem(context.Background(), broken)
	assert.Error(t, err)
	assert.False(t, broken.Success)
}
