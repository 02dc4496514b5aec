package sites

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"tankobon/downloader"
	"tankobon/models"

	"github.com/PuerkitoBio/goquery"
)

const (
	weebcentralBaseURL      = "https://weebcentral.com"
	weebcentralSearchParams = "&sort=Best+Match&order=Descending&official=Any&anime=Any&adult=Any&display_mode=Full+Display"

	weebcentralShowAll = `//button[contains(., "Show All Chapters")]`
	weebcentralReader  = "section.flex-1.flex.flex-col.pb-4.cursor-pointer.gap-4"
)

var (
	weebcentralNumberRe = regexp.MustCompile(`\d+\.\d+|\d+`)
	weebcentralImagesRe = regexp.MustCompile(`/chapters/[^"'\s]*/images`)
)

// WeebcentralSite scrapes weebcentral.com. The series page only lists the
// latest chapters until "Show All Chapters" is clicked.
type WeebcentralSite struct {
	baseURL string
	solver  downloader.ChallengeSolver
}

var _ downloader.SourceAdapter = (*WeebcentralSite)(nil)

func NewWeebcentralSite(deps downloader.SourceDeps) downloader.SourceAdapter {
	return newWeebcentralSite(deps, weebcentralBaseURL)
}

func newWeebcentralSite(deps downloader.SourceDeps, baseURL string) *WeebcentralSite {
	return &WeebcentralSite{baseURL: strings.TrimRight(baseURL, "/"), solver: deps.Solver}
}

func (w *WeebcentralSite) Source() models.Source { return models.SourceWeebcentral }

// Search returns ids of the form "/<seriesID>/<slug>", the path after
// "/series" on the site.
func (w *WeebcentralSite) Search(ctx context.Context, title string) ([]models.ComicSummary, error) {
	doc, err := fetchDocument(ctx, w.solver, "weebcentral", downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/search?text=%s%s", w.baseURL, url.QueryEscape(title), weebcentralSearchParams),
		WaitSelector: "article.bg-base-300",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search weebcentral: %w", err)
	}

	var results []models.ComicSummary
	doc.Find("article.bg-base-300.flex.gap-4.p-4").Each(func(_ int, item *goquery.Selection) {
		link := item.Find("section a").First()
		href := link.AttrOr("href", "")
		idx := strings.Index(href, "/series")
		if idx < 0 {
			return
		}
		id := href[idx+len("/series"):]

		img := link.Find("picture img").First()
		name := strings.TrimSpace(link.Find("div.truncate").First().Text())
		if name == "" {
			name = img.AttrOr("alt", "")
		}
		results = append(results, models.ComicSummary{
			ID:        id,
			Title:     map[string]string{"en": strings.TrimSuffix(name, " cover")},
			Languages: []string{"en"},
			CoverURL:  img.AttrOr("src", ""),
		})
	})

	log.Printf("<weebcentral> Search %q: %d results", title, len(results))
	return results, nil
}

func (w *WeebcentralSite) ListChapters(ctx context.Context, comicID string) ([]models.VolumeListing, error) {
	doc, err := fetchDocument(ctx, w.solver, "weebcentral", downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/series%s", w.baseURL, comicID),
		WaitSelector: "div#chapter-list",
		ClickTarget:  weebcentralShowAll,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters for %s: %w", comicID, err)
	}

	var entries []models.ChapterEntry
	doc.Find("div#chapter-list div.flex.items-center").Each(func(_ int, row *goquery.Selection) {
		a := row.Find("a").First()
		id := pathSegment(a.AttrOr("href", ""), 1)
		label := row.Find("span.grow.flex.items-center.gap-2 span").First().Text()
		number := weebcentralNumberRe.FindString(label)
		if id == "" || number == "" {
			return
		}
		entries = append(entries, models.ChapterEntry{
			SequenceKey: strconv.Itoa(len(entries)),
			ID:          id,
			Chapter:     number,
		})
	})

	log.Printf("<weebcentral> %s: %d chapters", comicID, len(entries))
	return singleVolume(entries), nil
}

// ResolveChapterAssets reads the reader section, following the HTMX images
// endpoint when the page has not loaded the images inline.
func (w *WeebcentralSite) ResolveChapterAssets(ctx context.Context, chapterKey string) ([]models.AssetReference, error) {
	doc, err := fetchDocument(ctx, w.solver, "weebcentral", downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/chapters/%s/", w.baseURL, chapterKey),
		WaitSelector: weebcentralReader,
	})
	if err != nil {
		return nil, err
	}

	urls := weebcentralImages(doc.Find(weebcentralReader + " img"))
	if len(urls) == 0 {
		html, _ := doc.Html()
		if endpoint := weebcentralImagesRe.FindString(html); endpoint != "" {
			imagesURL := w.baseURL + strings.ReplaceAll(endpoint, "&amp;", "&") + "?is_prev=False&reading_style=long_strip"
			log.Printf("<weebcentral> Fetching images from: %s", imagesURL)
			imagesDoc, err := fetchDocument(ctx, w.solver, "weebcentral", downloader.FetchRequest{URL: imagesURL, WaitSelector: "img"})
			if err != nil {
				return nil, err
			}
			urls = weebcentralImages(imagesDoc.Find("img"))
		}
	}

	assets := make([]models.AssetReference, 0, len(urls))
	for _, u := range urls {
		assets = append(assets, models.AssetReference{URL: u, Referer: w.baseURL + "/"})
	}
	log.Printf("<weebcentral> Found %d images for chapter %s", len(assets), chapterKey)
	return assets, nil
}

func weebcentralImages(sel *goquery.Selection) []string {
	var out []string
	seen := map[string]bool{}
	for _, u := range lazyImageSources(sel) {
		if !strings.HasPrefix(u, "http") || strings.Contains(u, "icon") || strings.Contains(u, "logo") || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
