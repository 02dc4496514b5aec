package sites

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"tankobon/downloader"
	"tankobon/models"
	"tankobon/parser"
)

const (
	mangadexAPIBase     = "https://api.mangadex.org"
	mangadexUploadBase  = "https://uploads.mangadex.org"
	mangadexAtHomeTries = 3
)

// MangaDex API response structures
type mangadexSearchResponse struct {
	Result string          `json:"result"`
	Data   []mangadexManga `json:"data"`
}

type mangadexManga struct {
	ID         string `json:"id"`
	Attributes struct {
		Title                        map[string]string `json:"title"`
		AvailableTranslatedLanguages []string          `json:"availableTranslatedLanguages"`
	} `json:"attributes"`
	Relationships []struct {
		Type       string `json:"type"`
		Attributes struct {
			FileName string `json:"fileName"`
		} `json:"attributes"`
	} `json:"relationships"`
}

// The aggregate endpoint answers an empty object as [] instead of {}.
type mangadexAggregate struct {
	Result  string          `json:"result"`
	Volumes json.RawMessage `json:"volumes"`
}

type mangadexVolume struct {
	Volume   string          `json:"volume"`
	Chapters json.RawMessage `json:"chapters"`
}

type mangadexAggregateChapter struct {
	Chapter string `json:"chapter"`
	ID      string `json:"id"`
}

type mangadexAtHomeResponse struct {
	Result  string `json:"result"`
	BaseUrl string `json:"baseUrl"`
	Chapter struct {
		Hash      string   `json:"hash"`
		Data      []string `json:"data"`
		DataSaver []string `json:"dataSaver"`
	} `json:"chapter"`
}

// MangadexSite talks to the public MangaDex REST API.
type MangadexSite struct {
	client    *downloader.APIClient
	apiBase   string
	uploadURL string
	rootURL   string
}

var _ downloader.SourceAdapter = (*MangadexSite)(nil)

// NewMangadexSite builds the adapter against the public API.
func NewMangadexSite(deps downloader.SourceDeps) downloader.SourceAdapter {
	return newMangadexSite(deps, mangadexAPIBase)
}

func newMangadexSite(deps downloader.SourceDeps, apiBase string) *MangadexSite {
	return &MangadexSite{
		client:    downloader.NewAPIClient("mangadex", transportOf(deps), nil),
		apiBase:   apiBase,
		uploadURL: mangadexUploadBase,
		rootURL:   deps.RootURL,
	}
}

func (m *MangadexSite) Source() models.Source { return models.SourceMangaDex }

// Search finds titles and attaches a proxied 256px cover thumbnail.
func (m *MangadexSite) Search(ctx context.Context, title string) ([]models.ComicSummary, error) {
	apiURL := fmt.Sprintf("%s/manga?title=%s&includes[]=cover_art", m.apiBase, url.QueryEscape(title))

	var resp mangadexSearchResponse
	if err := m.client.FetchJSON(ctx, apiURL, &resp); err != nil {
		return nil, classify(m.Source(), "search", fmt.Errorf("failed to search: %w", err))
	}

	results := make([]models.ComicSummary, 0, len(resp.Data))
	for _, manga := range resp.Data {
		var cover string
		for _, rel := range manga.Relationships {
			if rel.Type == "cover_art" && rel.Attributes.FileName != "" {
				cover = fmt.Sprintf("%s/covers/%s/%s.256.jpg", m.uploadURL, manga.ID, rel.Attributes.FileName)
				break
			}
		}
		results = append(results, models.ComicSummary{
			ID:        manga.ID,
			Title:     manga.Attributes.Title,
			Languages: manga.Attributes.AvailableTranslatedLanguages,
			CoverURL:  coverProxy(m.rootURL, cover, ""),
		})
	}

	log.Printf("<mangadex> Search %q: %d results", title, len(results))
	return results, nil
}

// ListChapters reads the English aggregate, which is complete in one call.
func (m *MangadexSite) ListChapters(ctx context.Context, comicID string) ([]models.VolumeListing, error) {
	apiURL := fmt.Sprintf("%s/manga/%s/aggregate?translatedLanguage[]=en", m.apiBase, url.PathEscape(comicID))

	var agg mangadexAggregate
	if err := m.client.FetchJSON(ctx, apiURL, &agg); err != nil {
		return nil, classify(m.Source(), "list chapters", fmt.Errorf("failed to fetch aggregate: %w", err))
	}

	var volumes map[string]mangadexVolume
	if err := decodeObjectOrEmpty(agg.Volumes, &volumes); err != nil {
		return nil, fmt.Errorf("malformed aggregate volumes: %w", err)
	}

	volKeys := make([]string, 0, len(volumes))
	for k := range volumes {
		volKeys = append(volKeys, k)
	}
	parser.SortNumeric(volKeys)

	listings := make([]models.VolumeListing, 0, len(volKeys))
	for _, vk := range volKeys {
		var chapters map[string]mangadexAggregateChapter
		if err := decodeObjectOrEmpty(volumes[vk].Chapters, &chapters); err != nil {
			return nil, fmt.Errorf("malformed chapters in volume %s: %w", vk, err)
		}

		chKeys := make([]string, 0, len(chapters))
		for k := range chapters {
			chKeys = append(chKeys, k)
		}
		parser.SortNumeric(chKeys)

		listing := models.VolumeListing{Volume: "Vol " + vk}
		for _, ck := range chKeys {
			ch := chapters[ck]
			listing.Chapters = append(listing.Chapters, models.ChapterEntry{
				SequenceKey: ck,
				ID:          ch.ID,
				Chapter:     ch.Chapter,
			})
		}
		listings = append(listings, listing)
	}

	log.Printf("<mangadex> %s: %d volumes", comicID, len(listings))
	return listings, nil
}

// ResolveChapterAssets polls the at-home endpoint until it names a server,
// a hash, and at least one file.
func (m *MangadexSite) ResolveChapterAssets(ctx context.Context, chapterKey string) ([]models.AssetReference, error) {
	apiURL := fmt.Sprintf("%s/at-home/server/%s", m.apiBase, url.PathEscape(chapterKey))

	var lastErr error
	for attempt := 1; attempt <= mangadexAtHomeTries; attempt++ {
		var resp mangadexAtHomeResponse
		err := m.client.FetchJSON(ctx, apiURL, &resp)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var status *downloader.HTTPStatusError
		if errors.As(err, &status) && status.Code == http.StatusNotFound {
			return nil, fmt.Errorf("chapter %s not found: %w", chapterKey, err)
		}

		if err == nil && resp.BaseUrl != "" && resp.Chapter.Hash != "" && len(resp.Chapter.Data) > 0 {
			assets := make([]models.AssetReference, 0, len(resp.Chapter.Data))
			for _, filename := range resp.Chapter.Data {
				assets = append(assets, models.AssetReference{
					URL: fmt.Sprintf("%s/data/%s/%s", resp.BaseUrl, resp.Chapter.Hash, filename),
				})
			}
			log.Printf("<mangadex> Found %d images for chapter %s", len(assets), chapterKey)
			return assets, nil
		}

		if err == nil {
			err = fmt.Errorf("incomplete at-home response")
		}
		lastErr = err
		log.Printf("<mangadex> ⚠️ at-home attempt %d/%d for %s: %v", attempt, mangadexAtHomeTries, chapterKey, err)
	}

	return nil, downloader.Unreachable(m.Source(), "resolve chapter", lastErr)
}

func decodeObjectOrEmpty(raw json.RawMessage, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '[' || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.Unmarshal(trimmed, out)
}
