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
	toonilyBaseURL      = "https://toonily.com"
	toonilySearchParams = "?op&author&artist&adult"
)

// ToonilySite scrapes toonily.com. Its image CDN checks both the referer
// and the clearance cookies of the main site, so sessions are warmed
// before the first request.
type ToonilySite struct {
	baseURL string
	domain  string
	rootURL string
	solver  downloader.ChallengeSolver
}

var _ downloader.SourceAdapter = (*ToonilySite)(nil)

func NewToonilySite(deps downloader.SourceDeps) downloader.SourceAdapter {
	return newToonilySite(deps, toonilyBaseURL)
}

func newToonilySite(deps downloader.SourceDeps, baseURL string) *ToonilySite {
	t := &ToonilySite{
		baseURL: strings.TrimRight(baseURL, "/"),
		rootURL: deps.RootURL,
		solver:  deps.Solver,
	}
	if u, err := url.Parse(t.baseURL); err == nil {
		t.domain = u.Hostname()
	}
	return t
}

func (t *ToonilySite) Source() models.Source { return models.SourceToonily }

// warmCookies makes sure a clearance is cached for the domain. Failure is
// not fatal: the page fetch will try again on its own.
func (t *ToonilySite) warmCookies(ctx context.Context) {
	if t.solver == nil {
		return
	}
	if _, err := t.solver.GetSessionCookies(ctx, t.domain); err != nil {
		log.Printf("<toonily> ⚠️ Could not warm session cookies: %v", err)
	}
}

func (t *ToonilySite) Search(ctx context.Context, title string) ([]models.ComicSummary, error) {
	t.warmCookies(ctx)

	doc, err := fetchDocument(ctx, t.solver, "toonily", downloader.FetchRequest{
		URL: fmt.Sprintf("%s/search/%s%s", t.baseURL, url.PathEscape(title), toonilySearchParams),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search toonily: %w", err)
	}

	var results []models.ComicSummary
	doc.Find("div.item-thumb.c-image-hover a").Each(func(_ int, a *goquery.Selection) {
		id := pathSegment(a.AttrOr("href", ""), 1)
		name := a.AttrOr("title", "")
		if id == "" || name == "" {
			return
		}
		img := a.Find("img").First()
		cover := img.AttrOr("src", img.AttrOr("data-src", ""))
		results = append(results, models.ComicSummary{
			ID:        id,
			Title:     map[string]string{"en": name},
			Languages: []string{"en"},
			CoverURL:  coverProxy(t.rootURL, strings.TrimSpace(cover), t.baseURL),
		})
	})

	log.Printf("<toonily> Search %q: %d results", title, len(results))
	return results, nil
}

func (t *ToonilySite) ListChapters(ctx context.Context, comicID string) ([]models.VolumeListing, error) {
	doc, err := fetchDocument(ctx, t.solver, "toonily", downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/serie/%s", t.baseURL, comicID),
		WaitSelector: "li.wp-manga-chapter",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters for %s: %w", comicID, err)
	}

	var entries []models.ChapterEntry
	doc.Find("li.wp-manga-chapter").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a").First()
		href := a.AttrOr("href", "")
		slug := pathSegment(href, 1)
		if slug == "" {
			return
		}
		entries = append(entries, models.ChapterEntry{
			SequenceKey: strconv.Itoa(len(entries)),
			ID:          comicID + "/" + slug,
			Chapter:     chapterNumber(a.Contents().First().Text(), href),
		})
	})

	log.Printf("<toonily> %s: %d chapters", comicID, len(entries))
	return singleVolume(entries), nil
}

func (t *ToonilySite) ResolveChapterAssets(ctx context.Context, chapterKey string) ([]models.AssetReference, error) {
	t.warmCookies(ctx)

	doc, err := fetchDocument(ctx, t.solver, "toonily", downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/serie/%s/", t.baseURL, chapterKey),
		WaitSelector: madaraReader,
	})
	if err != nil {
		return nil, err
	}

	urls := lazyImageSources(doc.Find(madaraReader + " div.page-break.no-gaps img"))
	assets := make([]models.AssetReference, 0, len(urls))
	for _, u := range urls {
		assets = append(assets, models.AssetReference{
			URL:          u,
			Referer:      t.baseURL + "/",
			CookieDomain: t.domain,
		})
	}
	log.Printf("<toonily> Found %d images for chapter %s", len(assets), chapterKey)
	return assets, nil
}
