package packager

import (
	"archive/zip"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1k-7/LNreqnw/internal/novel"
)

func demoNovel() *novel.Novel {
	return &novel.Novel{
		URL:    "https://example.com/novel/demo",
		Title:  "Demo Novel",
		Author: "Someone",
		Volumes: []novel.Volume{
			{ID: 1, Title: "Volume 1"},
			{ID: 2, Title: "Volume 2"},
		},
		Chapters: []*novel.Chapter{
			{ID: 1, Volume: 1, Title: "One", Body: "<p>a</p>", Success: true},
			{ID: 2, Volume: 1, Title: "Two", Body: "<p>b</p>", Success: true},
			{ID: 3, Volume: 2, Title: "Three", Body: "<p>c</p>", Success: true},
		},
	}
}

// TestGroupChaptersWholeRange packs everything into one span-named group.
func TestGroupChaptersWholeRange(t *testing.T) {
	t.Parallel()
	groups := GroupChapters(demoNovel(), false)
	require.Len(t, groups, 1)
	assert.Equal(t, "c1-3", groups[0].Name)
	assert.Len(t, groups[0].Chapters, 3)
}

// TestGroupChaptersByVolume splits per volume and drops empty volumes.
func TestGroupChaptersByVolume(t *testing.T) {
	t.Parallel()
	n := demoNovel()
	n.Volumes = append(n.Volumes, novel.Volume{ID: 3, Title: "Volume 3"})
	groups := GroupChapters(n, true)
	require.Len(t, groups, 2)
	assert.Equal(t, "Volume 1", groups[0].Name)
	assert.Len(t, groups[0].Chapters, 2)
	assert.Equal(t, "Volume 2", groups[1].Name)
}

// TestGroupChaptersEmpty yields no groups for an empty novel.
func TestGroupChaptersEmpty(t *testing.T) {
	t.Parallel()
	assert.Nil(t, GroupChapters(&novel.Novel{}, false))
}

// TestZipPackagerWritesArchive checks the produced archive layout.
func TestZipPackagerWritesArchive(t *testing.T) {
	t.Parallel()
	n := demoNovel()
	outDir := t.TempDir()
	p := &ZipPackager{}

	path, err := p.Package(context.Background(), n, GroupChapters(n, false)[0], outDir)
	require.NoError(t, err)
	require.NotEmpty(t, path)

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	names := make(map[string]bool)
	for _, f := range r.File {
		names[f.Name] = true
	}
	assert.True(t, names["info.json"])
	assert.True(t, names["chapters/00001.html"])
	assert.True(t, names["chapters/00003.html"])
}

// TestZipPackagerEmptyGroup returns no artifact and no error when every
// chapter body is empty.
func TestZipPackagerEmptyGroup(t *testing.T) {
	t.Parallel()
	n := demoNovel()
	for _, ch := range n.Chapters {
		ch.Body = ""
	}
	p := &ZipPackager{}
	path, err := p.Package(context.Background(), n, GroupChapters(n, false)[0], t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestSafeFileName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Demo Novel", safeFileName("Demo: Novel?!"))
	assert.Equal(t, "untitled", safeFileName("///"))
}
