package sites

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"tankobon/downloader"
	"tankobon/models"

	"github.com/PuerkitoBio/goquery"
)

const (
	madaraSearchParams = "&post_type=wp-manga&op=&author=&artist=&release=&adult="

	// The chapter list renders with "active" while some chapters are still
	// collapsed and without it once fully expanded.
	madaraChaptersPrimary  = "ul.main.version-chap.no-volumn.active"
	madaraChaptersFallback = "ul.main.version-chap.no-volumn"

	madaraReader = "div.reading-content"
)

// MadaraSite scrapes WordPress sites running the Madara manga theme. The
// theme is shared, the hostnames and a few selectors are not.
type MadaraSite struct {
	src        models.Source
	name       string
	baseURL    string
	rootURL    string
	solver     downloader.ChallengeSolver
	searchWait string
	imageSel   string
	domain     string
}

var _ downloader.SourceAdapter = (*MadaraSite)(nil)

// NewKunmangaSite builds the kunmanga.com adapter.
func NewKunmangaSite(deps downloader.SourceDeps) downloader.SourceAdapter {
	return newMadaraSite(deps, models.SourceKunmanga, "kunmanga", "https://kunmanga.com", "div.c-tabs-item")
}

func newMadaraSite(deps downloader.SourceDeps, src models.Source, name, baseURL, searchWait string) *MadaraSite {
	var domain string
	if u, err := url.Parse(baseURL); err == nil {
		domain = u.Hostname()
	}
	return &MadaraSite{
		src:        src,
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		rootURL:    deps.RootURL,
		solver:     deps.Solver,
		searchWait: searchWait,
		imageSel:   madaraReader + " img",
		domain:     domain,
	}
}

func (m *MadaraSite) Source() models.Source { return m.src }

func (m *MadaraSite) Search(ctx context.Context, title string) ([]models.ComicSummary, error) {
	doc, err := fetchDocument(ctx, m.solver, m.name, downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/?s=%s%s", m.baseURL, url.QueryEscape(title), madaraSearchParams),
		WaitSelector: m.searchWait,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", m.name, err)
	}

	var results []models.ComicSummary
	doc.Find("div.row.c-tabs-item__content").Each(func(_ int, item *goquery.Selection) {
		thumb := item.Find("div.tab-thumb a").First()
		heading := item.Find("h3.h4 a").First()

		href := heading.AttrOr("href", thumb.AttrOr("href", ""))
		name := strings.TrimSpace(heading.Text())
		if name == "" {
			name = thumb.AttrOr("title", "")
		}
		id := m.comicSlug(href)
		if id == "" || name == "" {
			return
		}

		img := item.Find("img").First()
		cover := img.AttrOr("data-src", img.AttrOr("src", ""))
		results = append(results, models.ComicSummary{
			ID:        id,
			Title:     map[string]string{"en": name},
			Languages: []string{"en"},
			CoverURL:  coverProxy(m.rootURL, strings.TrimSpace(cover), m.baseURL),
		})
	})

	log.Printf("<%s> Search %q: %d results", m.name, title, len(results))
	return results, nil
}

// comicSlug extracts "<slug>" from ".../manga/<slug>/".
func (m *MadaraSite) comicSlug(href string) string {
	if idx := strings.Index(href, "/manga/"); idx >= 0 {
		return strings.Trim(href[idx+len("/manga/"):], "/")
	}
	return ""
}

// ListChapters waits for either chapter list variant in one navigation and
// then prefers the primary one.
func (m *MadaraSite) ListChapters(ctx context.Context, comicID string) ([]models.VolumeListing, error) {
	doc, err := fetchDocument(ctx, m.solver, m.name, downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/manga/%s", m.baseURL, comicID),
		WaitSelector: madaraChaptersPrimary + ", " + madaraChaptersFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters for %s: %w", comicID, err)
	}

	list := doc.Find(madaraChaptersPrimary).First()
	if list.Length() == 0 {
		log.Printf("<%s> Primary chapter list missing, using fallback", m.name)
		list = doc.Find(madaraChaptersFallback).First()
	}
	if list.Length() == 0 {
		return nil, fmt.Errorf("no chapter list found for %s", comicID)
	}

	var entries []models.ChapterEntry
	list.Find("li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a").First()
		href := a.AttrOr("href", "")
		slug := pathSegment(href, 1)
		if slug == "" {
			return
		}
		entries = append(entries, models.ChapterEntry{
			SequenceKey: strconv.Itoa(len(entries)),
			ID:          comicID + "/" + slug,
			Chapter:     chapterNumber(a.Text(), href),
		})
	})

	log.Printf("<%s> %s: %d chapters", m.name, comicID, len(entries))
	return singleVolume(entries), nil
}

func (m *MadaraSite) ResolveChapterAssets(ctx context.Context, chapterKey string) ([]models.AssetReference, error) {
	doc, err := fetchDocument(ctx, m.solver, m.name, downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/manga/%s/", m.baseURL, chapterKey),
		WaitSelector: madaraReader,
	})
	if err != nil {
		return nil, err
	}

	urls := lazyImageSources(doc.Find(m.imageSel))
	assets := make([]models.AssetReference, 0, len(urls))
	for _, u := range urls {
		// image hosts sit behind the same clearance as the pages
		assets = append(assets, models.AssetReference{URL: u, Referer: m.baseURL + "/", CookieDomain: m.domain})
	}
	log.Printf("<%s> Found %d images for chapter %s", m.name, len(assets), chapterKey)
	return assets, nil
}
