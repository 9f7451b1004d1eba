// Package packager turns fetched novel content into deliverable artifacts.
// The concrete format lives behind the Packager interface; the pipeline
// cares only that each grouping may or may not yield an artifact path.
package packager

import (
	"context"
	"fmt"

	"github.com/1k-7/LNreqnw/internal/novel"
)

// Group is one packaging unit: the whole novel, or a single volume when
// packing by volume.
type Group struct {
	Name     string
	Chapters []*novel.Chapter
}

// Packager builds one artifact per group. An empty path with a nil error is
// a legitimate result (nothing to package for this group); the pipeline
// classifies a job with zero artifacts overall as generation failed.
type Packager interface {
	Package(ctx context.Context, n *novel.Novel, group Group, outDir string) (string, error)
}

// GroupChapters splits chapters into packaging units. With byVolume false
// the whole chapter range forms one group named after its ID span, which is
// how single-file outputs are labeled.
func GroupChapters(n *novel.Novel, byVolume bool) []Group {
	if len(n.Chapters) == 0 {
		return nil
	}
	if !byVolume {
		first := n.Chapters[0].ID
		last := n.Chapters[len(n.Chapters)-1].ID
		return []Group{{
			Name:     groupSpanName(first, last),
			Chapters: n.Chapters,
		}}
	}
	var out []Group
	for _, vol := range n.Volumes {
		var chapters []*novel.Chapter
		for _, ch := range n.Chapters {
			if ch.Volume == vol.ID {
				chapters = append(chapters, ch)
			}
		}
		if len(chapters) == 0 {
			continue
		}
		out = append(out, Group{Name: vol.Title, Chapters: chapters})
	}
	return out
}

func groupSpanName(first, last int) string {
	return fmt.Sprintf("c%d-%d", first, last)
}
