package sites

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"tankobon/downloader"
	"tankobon/models"
	"tankobon/parser"
)

const mangapillReferer = "https://mangapill.com"

// imageHeader accepts both shapes the proxy uses for headerForImage: a
// bare referer string or an object with a Referer key.
type imageHeader string

func (h *imageHeader) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*h = imageHeader(s)
		return nil
	}
	var obj struct {
		Referer string `json:"Referer"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*h = imageHeader(obj.Referer)
	return nil
}

type mangapiSearchResponse struct {
	Results []struct {
		ID             string      `json:"id"`
		Title          string      `json:"title"`
		Image          string      `json:"image"`
		HeaderForImage imageHeader `json:"headerForImage"`
	} `json:"results"`
}

type mangapiInfoResponse struct {
	Chapters []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Chapter string `json:"chapter"`
	} `json:"chapters"`
}

type mangapiPage struct {
	Page           int         `json:"page"`
	Img            string      `json:"img"`
	HeaderForImage imageHeader `json:"headerForImage"`
}

// MangapiSite fronts a provider through the internal REST proxy at
// <MANGAPI_URL>/manga/<provider>. Mangahere and Mangapill differ only in
// how chapters are numbered and which referer their images need.
type MangapiSite struct {
	src      models.Source
	provider string
	baseURL  string
	rootURL  string
	referer  string // fixed referer; empty means use the per-page header
	client   *downloader.APIClient

	// volumes parses chapter titles into volume groups
	volumes bool
}

var _ downloader.SourceAdapter = (*MangapiSite)(nil)

// NewMangahereSite builds the Mangahere adapter.
func NewMangahereSite(deps downloader.SourceDeps) downloader.SourceAdapter {
	return newMangapiSite(deps, models.SourceMangahere, "mangahere", "", true)
}

// NewMangapillSite builds the Mangapill adapter.
func NewMangapillSite(deps downloader.SourceDeps) downloader.SourceAdapter {
	return newMangapiSite(deps, models.SourceMangapill, "mangapill", mangapillReferer, false)
}

func newMangapiSite(deps downloader.SourceDeps, src models.Source, provider, referer string, volumes bool) *MangapiSite {
	return &MangapiSite{
		src:      src,
		provider: provider,
		baseURL:  fmt.Sprintf("%s/manga/%s", strings.TrimRight(deps.MangapiURL, "/"), provider),
		rootURL:  deps.RootURL,
		referer:  referer,
		client:   downloader.NewAPIClient(provider, nil, nil),
		volumes:  volumes,
	}
}

func (m *MangapiSite) Source() models.Source { return m.src }

func (m *MangapiSite) Search(ctx context.Context, title string) ([]models.ComicSummary, error) {
	var resp mangapiSearchResponse
	if err := m.client.FetchJSON(ctx, m.baseURL+"/"+url.PathEscape(title), &resp); err != nil {
		return nil, classify(m.src, "search", fmt.Errorf("failed to search %s: %w", m.provider, err))
	}

	results := make([]models.ComicSummary, 0, len(resp.Results))
	for _, r := range resp.Results {
		referer := m.referer
		if referer == "" {
			referer = string(r.HeaderForImage)
		}
		results = append(results, models.ComicSummary{
			ID:        r.ID,
			Title:     map[string]string{"en": r.Title},
			Languages: []string{"en"},
			CoverURL:  coverProxy(m.rootURL, r.Image, referer),
		})
	}
	log.Printf("<%s> Search %q: %d results", m.provider, title, len(results))
	return results, nil
}

func (m *MangapiSite) ListChapters(ctx context.Context, comicID string) ([]models.VolumeListing, error) {
	var resp mangapiInfoResponse
	if err := m.client.FetchJSON(ctx, m.baseURL+"/info?id="+url.QueryEscape(comicID), &resp); err != nil {
		return nil, classify(m.src, "list chapters", fmt.Errorf("failed to fetch %s info: %w", m.provider, err))
	}

	if !m.volumes {
		entries := make([]models.ChapterEntry, 0, len(resp.Chapters))
		for i, ch := range resp.Chapters {
			number := ch.Chapter
			if number == "" {
				_, number = parser.ParseVolumeChapter(ch.Title)
			}
			entries = append(entries, models.ChapterEntry{
				SequenceKey: fmt.Sprint(i),
				ID:          ch.ID,
				Chapter:     parser.CleanChapterText(number),
			})
		}
		return singleVolume(entries), nil
	}

	builder := newVolumeBuilder()
	for _, ch := range resp.Chapters {
		vol, number := parser.ParseVolumeChapter(ch.Title)
		builder.add("Vol "+vol, ch.ID, number)
	}
	return builder.listings(), nil
}

func (m *MangapiSite) ResolveChapterAssets(ctx context.Context, chapterKey string) ([]models.AssetReference, error) {
	var pages []mangapiPage
	if err := m.client.FetchJSON(ctx, m.baseURL+"/read?chapterId="+url.QueryEscape(chapterKey), &pages); err != nil {
		return nil, classify(m.src, "resolve chapter", err)
	}

	assets := make([]models.AssetReference, 0, len(pages))
	for _, p := range pages {
		referer := m.referer
		if referer == "" {
			referer = string(p.HeaderForImage)
		}
		assets = append(assets, models.AssetReference{URL: p.Img, Referer: referer})
	}
	log.Printf("<%s> Found %d images for chapter %s", m.provider, len(assets), chapterKey)
	return assets, nil
}
