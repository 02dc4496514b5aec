package sites

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"tankobon/downloader"
	"tankobon/models"

	"github.com/PuerkitoBio/goquery"
)

const (
	asuraBaseURL = "https://asuracomic.net"

	asuraSearchGrid  = `div[class="grid grid-cols-2 sm:grid-cols-2 md:grid-cols-5 gap-3 p-4"]`
	asuraChapterList = `div[class*="scrollbar-thumb-themecolor"]`
	asuraReader      = `div[class="w-full mx-auto center"]`
)

// chapterImage holds URL and order
type chapterImage struct {
	Order int
	URL   string
}

// Newer chapters render images client side; the ordered list is still in
// the Next.js payload. Patterns are tried in order.
var asuraImageRegexPatterns = []*regexp.Regexp{
	// numeric prefix, older chapters ("00-optimized.webp")
	regexp.MustCompile(`https://gg\.asuracomic\.net/storage/media/[0-9]+/conversions/(\d{1,3})-optimized\.(webp|jpg|png)`),

	// {"order":1,"url":"https://...optimized.webp"}
	regexp.MustCompile(`\\"order\\":\s*(\d+),\\"url\\":\\"(https://gg\.asuracomic\.net/storage/media/[0-9]+/conversions/[0-9A-Z]+-optimized\.(?:webp|jpg|png))`),
}

// AsuraSite scrapes asuracomic.net.
type AsuraSite struct {
	baseURL string
	solver  downloader.ChallengeSolver
}

var _ downloader.SourceAdapter = (*AsuraSite)(nil)

func NewAsuraSite(deps downloader.SourceDeps) downloader.SourceAdapter {
	return newAsuraSite(deps, asuraBaseURL)
}

func newAsuraSite(deps downloader.SourceDeps, baseURL string) *AsuraSite {
	return &AsuraSite{baseURL: strings.TrimRight(baseURL, "/"), solver: deps.Solver}
}

func (a *AsuraSite) Source() models.Source { return models.SourceAsura }

func (a *AsuraSite) Search(ctx context.Context, title string) ([]models.ComicSummary, error) {
	doc, err := fetchDocument(ctx, a.solver, "asura", downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/series?page=1&name=%s", a.baseURL, url.QueryEscape(title)),
		WaitSelector: asuraSearchGrid,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search asura: %w", err)
	}

	var results []models.ComicSummary
	doc.Find(asuraSearchGrid).First().Find("a").Each(func(_ int, link *goquery.Selection) {
		id := strings.TrimPrefix(strings.TrimPrefix(link.AttrOr("href", ""), "/"), "series/")
		name := strings.TrimSpace(link.Find("span.font-bold").First().Contents().First().Text())
		if id == "" || name == "" {
			return
		}
		results = append(results, models.ComicSummary{
			ID:        id,
			Title:     map[string]string{"en": name},
			Languages: []string{"en"},
			CoverURL:  link.Find("img").First().AttrOr("src", ""),
		})
	})

	log.Printf("<asura> Search %q: %d results", title, len(results))
	return results, nil
}

func (a *AsuraSite) ListChapters(ctx context.Context, comicID string) ([]models.VolumeListing, error) {
	doc, err := fetchDocument(ctx, a.solver, "asura", downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/series/%s", a.baseURL, comicID),
		WaitSelector: asuraChapterList,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters for %s: %w", comicID, err)
	}

	var entries []models.ChapterEntry
	doc.Find(asuraChapterList).First().Find("a").Each(func(_ int, link *goquery.Selection) {
		href := link.AttrOr("href", "")
		heading := link.Find("h3").First()
		if href == "" || heading.Length() == 0 {
			return
		}
		entries = append(entries, models.ChapterEntry{
			SequenceKey: strconv.Itoa(len(entries)),
			ID:          strings.TrimPrefix(href, "/series/"),
			Chapter:     chapterNumber(heading.Contents().First().Text(), href),
		})
	})

	log.Printf("<asura> %s: %d chapters", comicID, len(entries))
	return singleVolume(entries), nil
}

// ResolveChapterAssets reads the rendered reader first and falls back to
// the script payload when the reader has not hydrated.
func (a *AsuraSite) ResolveChapterAssets(ctx context.Context, chapterKey string) ([]models.AssetReference, error) {
	doc, err := fetchDocument(ctx, a.solver, "asura", downloader.FetchRequest{
		URL:          fmt.Sprintf("%s/series/%s/", a.baseURL, chapterKey),
		WaitSelector: "body",
	})
	if err != nil {
		return nil, err
	}

	var urls []string
	doc.Find(asuraReader).Each(func(_ int, s *goquery.Selection) {
		if src := strings.TrimSpace(s.Find("img").First().AttrOr("src", "")); src != "" {
			urls = append(urls, src)
		}
	})

	if len(urls) == 0 {
		for _, img := range asuraImagesFromScripts(doc) {
			urls = append(urls, img.URL)
		}
	}

	assets := make([]models.AssetReference, 0, len(urls))
	for _, u := range urls {
		assets = append(assets, models.AssetReference{URL: u, Referer: a.baseURL + "/"})
	}
	log.Printf("<asura> Found %d images for chapter %s", len(assets), chapterKey)
	return assets, nil
}

// asuraImagesFromScripts picks, per pattern, the script with the most
// matches and returns its images sorted by order and deduplicated.
func asuraImagesFromScripts(doc *goquery.Document) []chapterImage {
	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts = append(scripts, s.Text())
	})

	for patternIdx, pattern := range asuraImageRegexPatterns {
		var best []chapterImage
		for _, script := range scripts {
			if images := asuraExtractImagesWithPattern(script, pattern, patternIdx); len(images) > len(best) {
				best = images
			}
		}
		if len(best) > 0 {
			log.Printf("<asura> Pattern %d matched %d images", patternIdx+1, len(best))
			return dedupeImages(best)
		}
	}
	return nil
}

func asuraExtractImagesWithPattern(script string, pattern *regexp.Regexp, patternIdx int) []chapterImage {
	var images []chapterImage
	for _, match := range pattern.FindAllStringSubmatch(script, -1) {
		if len(match) < 3 {
			continue
		}
		orderStr, imgURL := match[1], match[0]
		if patternIdx == 1 {
			imgURL = match[2]
		}
		order, err := strconv.Atoi(orderStr)
		if err != nil {
			continue
		}
		images = append(images, chapterImage{Order: order, URL: imgURL})
	}
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Order < images[j].Order
	})
	return images
}

func dedupeImages(images []chapterImage) []chapterImage {
	seen := make(map[string]bool, len(images))
	out := images[:0]
	for _, img := range images {
		if !seen[img.URL] {
			seen[img.URL] = true
			out = append(out, img)
		}
	}
	return out
}
