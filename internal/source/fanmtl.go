package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/novel"
)

const fanmtlBase = "https://www.fanmtl.com/"

// FanMTL is the bundled adapter for fanmtl.com.
type FanMTL struct {
	opts   Options
	base   *colly.Collector
	logger *zap.Logger
}

// NewFanMTL builds a FanMTL adapter instance.
func NewFanMTL(opts Options, logger *zap.Logger) Source {
	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(opts.Timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Referer", fanmtlBase)
	})
	return &FanMTL{opts: opts, base: c, logger: logger}
}

// Capabilities reports cover support; fanmtl has no login or search API.
func (f *FanMTL) Capabilities() Capability {
	return Capability{Cover: true}
}

// Close releases nothing today; the collector holds no persistent session.
func (f *FanMTL) Close() error { return nil }

// ResolveMetadata loads the novel page and walks the paginated chapter
// list. Zero chapters is reported as a valid (empty) novel; classification
// is the pipeline's call, not the adapter's.
func (f *FanMTL) ResolveMetadata(ctx context.Context, rawURL string) (*novel.Novel, error) {
	n := &novel.Novel{
		URL:     rawURL,
		Volumes: []novel.Volume{{ID: 1, Title: "Volume 1"}},
	}

	c := f.base.Clone()
	c.Context = ctx

	c.OnHTML("h1.novel-title", func(e *colly.HTMLElement) {
		n.Title = strings.TrimSpace(e.Text)
	})
	c.OnHTML(`meta[property="og:title"]`, func(e *colly.HTMLElement) {
		if n.Title == "" {
			n.Title = strings.TrimSpace(e.Attr("content"))
		}
	})
	c.OnHTML(`.novel-info .author span[itemprop="author"]`, func(e *colly.HTMLElement) {
		n.Author = strings.TrimSpace(e.Text)
	})
	c.OnHTML(".summary .content", func(e *colly.HTMLElement) {
		n.Synopsis = strings.TrimSpace(e.Text)
	})
	c.OnHTML("figure.cover img, .fixed-img img", func(e *colly.HTMLElement) {
		if n.CoverURL != "" {
			return
		}
		src := e.Attr("src")
		if strings.Contains(src, "placeholder") && e.Attr("data-src") != "" {
			src = e.Attr("data-src")
		}
		n.CoverURL = e.Request.AbsoluteURL(src)
	})
	c.OnHTML("ul.chapter-list li a", func(e *colly.HTMLElement) {
		n.Chapters = append(n.Chapters, &novel.Chapter{
			ID:     len(n.Chapters) + 1,
			Volume: 1,
			URL:    e.Request.AbsoluteURL(e.Attr("href")),
			Title:  strings.TrimSpace(e.ChildText(".chapter-title")),
		})
	})

	var lastPageHref string
	c.OnHTML(`.pagination a[data-ajax-update="#chpagedlist"]`, func(e *colly.HTMLElement) {
		lastPageHref = e.Attr("href")
	})

	if err := c.Visit(rawURL); err != nil {
		return nil, errors.Wrapf(err, "visit %s", rawURL)
	}

	if lastPageHref != "" {
		if err := f.walkChapterPages(ctx, n, lastPageHref); err != nil {
			// Pagination failures leave a partial but usable list.
			f.logger.Warn("chapter pagination failed", zap.String("url", rawURL), zap.Error(err))
		}
	}
	sort.SliceStable(n.Chapters, func(i, j int) bool { return n.Chapters[i].ID < n.Chapters[j].ID })

	if n.Title == "" {
		n.Title = "Unknown Title"
	}
	return n, nil
}

// walkChapterPages fetches the remaining AJAX chapter-list pages.
func (f *FanMTL) walkChapterPages(ctx context.Context, n *novel.Novel, lastHref string) error {
	abs := lastHref
	if !strings.HasPrefix(abs, "http") {
		abs = strings.TrimSuffix(fanmtlBase, "/") + lastHref
	}
	u, err := url.Parse(abs)
	if err != nil {
		return errors.Wrap(err, "parse pagination href")
	}
	query := u.Query()
	lastPage, err := strconv.Atoi(query.Get("page"))
	if err != nil {
		return errors.Wrap(err, "parse page number")
	}
	wjm := query.Get("wjm")
	common := abs
	if i := strings.Index(common, "?"); i >= 0 {
		common = common[:i]
	}

	p := f.base.Clone()
	p.Context = ctx
	p.OnRequest(func(r *colly.Request) {
		r.Headers.Set("X-Requested-With", "XMLHttpRequest")
	})
	p.OnHTML("ul.chapter-list li a", func(e *colly.HTMLElement) {
		n.Chapters = append(n.Chapters, &novel.Chapter{
			ID:     len(n.Chapters) + 1,
			Volume: 1,
			URL:    e.Request.AbsoluteURL(e.Attr("href")),
			Title:  strings.TrimSpace(e.ChildText(".chapter-title")),
		})
	})

	// Page 0 is the novel page itself, already parsed.
	for page := 1; page <= lastPage; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := fmt.Sprintf("%s?page=%d&wjm=%s", common, page, wjm)
		if err := p.Visit(target); err != nil {
			f.logger.Warn("pagination fetch failed", zap.String("url", target), zap.Error(err))
		}
	}
	return nil
}

// FetchItem downloads one chapter body. Success is set on the chapter and
// is authoritative for the integrity gate: retryable failures exhaust
// MaxRetries before giving up, a hard 404 yields a placeholder body that
// still counts as success (the link is broken at the source, refetching
// will not fix it).
func (f *FanMTL) FetchItem(ctx context.Context, ch *novel.Chapter) error {
	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, status, err := f.fetchChapterBody(ctx, ch.URL)
		if err == nil && body != "" {
			ch.Body = body
			ch.Success = true
			return nil
		}
		if status == http.StatusNotFound {
			ch.Body = "<p><i>[Chapter link is broken (Error 404)]</i></p>"
			ch.Success = true
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if attempt < f.opts.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
	ch.Success = false
	if lastErr == nil {
		ch.Body = "<p><i>[Chapter content unavailable]</i></p>"
		return errors.Newf("chapter %d: empty content after %d attempts", ch.ID, f.opts.MaxRetries+1)
	}
	return errors.Wrapf(lastErr, "chapter %d", ch.ID)
}

func (f *FanMTL) fetchChapterBody(ctx context.Context, chapterURL string) (string, int, error) {
	c := f.base.Clone()
	c.Context = ctx

	var body string
	var status int
	c.OnHTML("#chapter-article .chapter-content", func(e *colly.HTMLElement) {
		if html, err := e.DOM.Html(); err == nil {
			body = strings.TrimSpace(html)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(chapterURL); err != nil {
		return "", status, errors.Wrapf(err, "visit %s", chapterURL)
	}
	return body, status, nil
}

// FetchCover downloads the cover image bytes.
func (f *FanMTL) FetchCover(ctx context.Context, coverURL string) ([]byte, error) {
	c := f.base.Clone()
	c.Context = ctx

	var data []byte
	c.OnResponse(func(r *colly.Response) {
		data = append([]byte(nil), r.Body...)
	})
	if err := c.Visit(coverURL); err != nil {
		return nil, errors.Wrapf(err, "visit cover %s", coverURL)
	}
	return data, nil
}
