package sites

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"tankobon/downloader"
	"tankobon/models"
	"tankobon/parser"

	"github.com/PuerkitoBio/goquery"
)

var (
	controlCharsRe = regexp.MustCompile(`[\t\r\n]`)
	chapterHrefRe  = regexp.MustCompile(`chapter[-/]([\d.]+)`)
)

// coverProxy routes a cover through the proxy-image endpoint so the
// browser never has to send the referer itself.
func coverProxy(rootURL, cover, referer string) string {
	if cover == "" {
		return ""
	}
	return fmt.Sprintf("%s/proxy-image?url=%s&hd=%s",
		strings.TrimRight(rootURL, "/"), url.QueryEscape(cover), url.QueryEscape(referer))
}

// classify turns a transport failure into a batch-fatal error and passes
// everything else through untouched.
func classify(src models.Source, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, downloader.ErrTransport) {
		return downloader.Unreachable(src, op, err)
	}
	return err
}

// lazyImageSources collects image URLs from sel. data-src wins; src is only
// consulted when no image carries a lazy-load attribute at all.
func lazyImageSources(sel *goquery.Selection) []string {
	collect := func(attr string) []string {
		var out []string
		sel.Each(func(_ int, img *goquery.Selection) {
			if v, ok := img.Attr(attr); ok {
				if v = strings.TrimSpace(controlCharsRe.ReplaceAllString(v, "")); v != "" {
					out = append(out, v)
				}
			}
		})
		return out
	}
	if urls := collect("data-src"); len(urls) > 0 {
		return urls
	}
	return collect("src")
}

// singleVolume wraps a flat chapter list for sources without volumes.
func singleVolume(entries []models.ChapterEntry) []models.VolumeListing {
	if len(entries) == 0 {
		return nil
	}
	return []models.VolumeListing{{Volume: models.DefaultVolume, Chapters: entries}}
}

// volumeBuilder groups chapters by label while keeping first-seen order.
type volumeBuilder struct {
	order []string
	byVol map[string]*models.VolumeListing
}

func newVolumeBuilder() *volumeBuilder {
	return &volumeBuilder{byVol: map[string]*models.VolumeListing{}}
}

func (b *volumeBuilder) add(volume, id, chapter string) {
	v, ok := b.byVol[volume]
	if !ok {
		v = &models.VolumeListing{Volume: volume}
		b.byVol[volume] = v
		b.order = append(b.order, volume)
	}
	v.Chapters = append(v.Chapters, models.ChapterEntry{
		SequenceKey: strconv.Itoa(len(v.Chapters)),
		ID:          id,
		Chapter:     chapter,
	})
}

func (b *volumeBuilder) listings() []models.VolumeListing {
	out := make([]models.VolumeListing, 0, len(b.order))
	for _, vol := range b.order {
		out = append(out, *b.byVol[vol])
	}
	return out
}

// volumeLabel renders "Vol N", falling back to the default for missing or
// empty volumes.
func volumeLabel(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return models.DefaultVolume
	}
	return "Vol " + raw
}

// pathSegment returns the n-th segment from the end of a URL path, ignoring
// a trailing slash. n=1 is the last segment.
func pathSegment(rawURL string, n int) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if n <= 0 || n > len(parts) {
		return ""
	}
	return parts[len(parts)-n]
}

// transportOf reuses the shared round tripper so API calls get the same
// browser-like TLS profile as page fetches.
func transportOf(deps downloader.SourceDeps) http.RoundTripper {
	if deps.HTTPClient != nil && deps.HTTPClient.Transport != nil {
		return deps.HTTPClient.Transport
	}
	return nil
}

// fetchDocument runs a challenge-gated fetch and logs the outcome with the
// adapter's prefix.
func fetchDocument(ctx context.Context, solver downloader.ChallengeSolver, name string, req downloader.FetchRequest) (*goquery.Document, error) {
	if solver == nil {
		return nil, fmt.Errorf("<%s> no challenge solver configured", name)
	}
	doc, err := solver.SolveAndFetch(ctx, req)
	if err != nil {
		log.Printf("<%s> ✗ Fetch failed for %s: %v", name, req.URL, err)
		return nil, err
	}
	return doc, nil
}

// chapterNumber prefers the link text ("Chapter 12.5") and falls back to
// the URL ("chapter-12-5" style slugs only give the integer part), then to
// any number in the text.
func chapterNumber(text, href string) string {
	num := parser.CleanChapterText(text)
	if _, err := strconv.ParseFloat(num, 64); err == nil {
		return num
	}
	if m := chapterHrefRe.FindStringSubmatch(href); m != nil {
		return strings.TrimSuffix(m[1], ".")
	}
	_, ch := parser.ParseVolumeChapter(num)
	return ch
}
