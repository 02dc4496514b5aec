package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"tankobon/downloader"
	"tankobon/models"
)

const (
	batoBaseURL = "https://bato.si"

	defaultBatoStallLimit = 1
	defaultBatoMaxPages   = 500
)

const batoSearchQuery = `
query Search($select: Search_Comic_Select) {
  get_search_comic(select: $select) {
    items {
      data {
        id
        name
        urlCover300
        urlPath
      }
    }
  }
}`

const batoChaptersQuery = `
query Chapters($comicId: ID!, $start: Int) {
  get_comic_chapterList(comicId: $comicId, start: $start) {
    data {
      id
      volume
      count_images
      serial
    }
  }
}`

const batoImagesQuery = `
query Images($getChapterNodeId: ID!) {
  get_chapterNode(id: $getChapterNodeId) {
    data {
      imageFile {
        urlList
      }
    }
  }
}`

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type batoSearchResponse struct {
	Data struct {
		GetSearchComic struct {
			Items []struct {
				Data struct {
					ID          string `json:"id"`
					Name        string `json:"name"`
					URLCover300 string `json:"urlCover300"`
					URLPath     string `json:"urlPath"`
				} `json:"data"`
			} `json:"items"`
		} `json:"get_search_comic"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type batoChapter struct {
	ID          string       `json:"id"`
	Volume      *json.Number `json:"volume"`
	CountImages int          `json:"count_images"`
	Serial      json.Number  `json:"serial"`
}

type batoChaptersResponse struct {
	Data struct {
		GetComicChapterList []struct {
			Data batoChapter `json:"data"`
		} `json:"get_comic_chapterList"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type batoImagesResponse struct {
	Data struct {
		GetChapterNode *struct {
			Data *struct {
				ImageFile *struct {
					URLList []string `json:"urlList"`
				} `json:"imageFile"`
			} `json:"data"`
		} `json:"get_chapterNode"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// BatoSite uses Bato's GraphQL endpoint.
type BatoSite struct {
	client     *downloader.APIClient
	baseURL    string
	stallLimit int
	maxPages   int
}

var _ downloader.SourceAdapter = (*BatoSite)(nil)

// NewBatoSite builds the adapter against bato.si.
func NewBatoSite(deps downloader.SourceDeps) downloader.SourceAdapter {
	return newBatoSite(deps, batoBaseURL)
}

func newBatoSite(deps downloader.SourceDeps, baseURL string) *BatoSite {
	b := &BatoSite{
		client:     downloader.NewAPIClient("bato", transportOf(deps), deps.Sessions),
		baseURL:    strings.TrimRight(baseURL, "/"),
		stallLimit: deps.PaginationStallLimit,
		maxPages:   deps.MaxPages,
	}
	if b.stallLimit <= 0 {
		b.stallLimit = defaultBatoStallLimit
	}
	if b.maxPages <= 0 {
		b.maxPages = defaultBatoMaxPages
	}
	return b
}

func (b *BatoSite) Source() models.Source { return models.SourceBato }

func (b *BatoSite) query(ctx context.Context, op, query string, vars map[string]interface{}, out interface{}) error {
	err := b.client.PostJSON(ctx, b.baseURL+"/ap2/", graphQLRequest{Query: query, Variables: vars}, out)
	return classify(b.Source(), op, err)
}

func (b *BatoSite) Search(ctx context.Context, title string) ([]models.ComicSummary, error) {
	var resp batoSearchResponse
	vars := map[string]interface{}{"select": map[string]interface{}{"word": title}}
	if err := b.query(ctx, "search", batoSearchQuery, vars, &resp); err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("bato search: %s", resp.Errors[0].Message)
	}

	var results []models.ComicSummary
	for _, item := range resp.Data.GetSearchComic.Items {
		cover := item.Data.URLCover300
		if cover != "" && strings.HasPrefix(cover, "/") {
			cover = b.baseURL + cover
		}
		results = append(results, models.ComicSummary{
			ID:        item.Data.ID,
			Title:     map[string]string{"en": item.Data.Name},
			Languages: []string{"en"},
			CoverURL:  cover,
		})
	}
	log.Printf("<bato> Search %q: %d results", title, len(results))
	return results, nil
}

// ListChapters pages through the chapter list by offset. It stops on an
// empty page, when the last serial has not advanced for stallLimit pages in
// a row, or after maxPages requests.
func (b *BatoSite) ListChapters(ctx context.Context, comicID string) ([]models.VolumeListing, error) {
	builder := newVolumeBuilder()
	seen := map[string]bool{}

	start := 0
	lastSerial := -1.0
	stalled := 0

	for page := 0; page < b.maxPages; page++ {
		var resp batoChaptersResponse
		vars := map[string]interface{}{"comicId": comicID, "start": start}
		if err := b.query(ctx, "list chapters", batoChaptersQuery, vars, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch chapter page %d: %w", page, err)
		}
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("bato chapter list: %s", resp.Errors[0].Message)
		}

		items := resp.Data.GetComicChapterList
		if len(items) == 0 {
			break
		}

		added := 0
		for _, item := range items {
			ch := item.Data
			if ch.ID == "" || seen[ch.ID] {
				continue
			}
			seen[ch.ID] = true
			added++

			volume := models.DefaultVolume
			if ch.Volume != nil {
				volume = volumeLabel(ch.Volume.String())
			}
			builder.add(volume, ch.ID, ch.Serial.String())
		}

		last, err := strconv.ParseFloat(items[len(items)-1].Data.Serial.String(), 64)
		if err != nil || last <= lastSerial {
			stalled++
			if stalled >= b.stallLimit {
				log.Printf("<bato> %s: pagination stopped advancing at offset %d", comicID, start)
				break
			}
		} else {
			stalled = 0
			lastSerial = last
		}

		start += len(items)
		log.Printf("<bato> %s: page %d gave %d chapters (%d new)", comicID, page, len(items), added)
	}

	listings := builder.listings()
	if len(listings) == 0 {
		return nil, fmt.Errorf("no chapters found for comic %s", comicID)
	}
	return listings, nil
}

func (b *BatoSite) ResolveChapterAssets(ctx context.Context, chapterKey string) ([]models.AssetReference, error) {
	var resp batoImagesResponse
	vars := map[string]interface{}{"getChapterNodeId": chapterKey}
	if err := b.query(ctx, "resolve chapter", batoImagesQuery, vars, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("bato chapter %s: %s", chapterKey, resp.Errors[0].Message)
	}

	node := resp.Data.GetChapterNode
	if node == nil || node.Data == nil || node.Data.ImageFile == nil {
		return nil, fmt.Errorf("bato chapter %s has no image list", chapterKey)
	}

	assets := make([]models.AssetReference, 0, len(node.Data.ImageFile.URLList))
	for _, u := range node.Data.ImageFile.URLList {
		assets = append(assets, models.AssetReference{URL: u})
	}
	log.Printf("<bato> Found %d images for chapter %s", len(assets), chapterKey)
	return assets, nil
}
