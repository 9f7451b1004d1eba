package packager

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/1k-7/LNreqnw/internal/novel"
)

// ZipPackager writes one zip archive per group containing the chapter HTML
// files, an info record and the cover when present.
type ZipPackager struct {
	// CoverPath, when set, is bundled into every artifact.
	CoverPath string
}

// Package writes the group's archive into outDir and returns its path.
// Groups whose chapters all have empty bodies yield no artifact.
func (p *ZipPackager) Package(ctx context.Context, n *novel.Novel, group Group, outDir string) (string, error) {
	nonEmpty := 0
	for _, ch := range group.Chapters {
		if ch.Body != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return "", nil
	}

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}
	name := fmt.Sprintf("%s %s.zip", safeFileName(n.Title), safeFileName(group.Name))
	path := filepath.Join(outDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "create artifact")
	}
	zw := zip.NewWriter(f)

	writeFailed := func(err error) (string, error) {
		_ = zw.Close()
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}

	info := map[string]any{
		"title":    n.Title,
		"author":   n.Author,
		"synopsis": n.Synopsis,
		"source":   n.URL,
		"group":    group.Name,
		"chapters": nonEmpty,
	}
	infoRaw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return writeFailed(errors.Wrap(err, "encode info record"))
	}
	if err := addZipEntry(zw, "info.json", infoRaw); err != nil {
		return writeFailed(err)
	}

	if p.CoverPath != "" {
		if cover, err := os.ReadFile(p.CoverPath); err == nil {
			if err := addZipEntry(zw, "cover.jpg", cover); err != nil {
				return writeFailed(err)
			}
		}
	}

	for _, ch := range group.Chapters {
		if err := ctx.Err(); err != nil {
			return writeFailed(err)
		}
		if ch.Body == "" {
			continue
		}
		doc := fmt.Sprintf("<html><head><title>%s</title></head><body><h1>%s</h1>%s</body></html>",
			ch.Title, ch.Title, ch.Body)
		entry := fmt.Sprintf("chapters/%05d.html", ch.ID)
		if err := addZipEntry(zw, entry, []byte(doc)); err != nil {
			return writeFailed(err)
		}
	}

	if err := zw.Close(); err != nil {
		return writeFailed(errors.Wrap(err, "finalize archive"))
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "close artifact")
	}
	return path, nil
}

func addZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return errors.Wrapf(err, "create zip entry %s", name)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrapf(err, "write zip entry %s", name)
	}
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^\w\- ]+`)

func safeFileName(s string) string {
	s = unsafeFileChars.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 50 {
		s = strings.TrimSpace(s[:50])
	}
	if s == "" {
		s = "untitled"
	}
	return s
}
