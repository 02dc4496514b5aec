package downloader

import (
	"context"
	"net/http"

	"tankobon/cf"
	"tankobon/models"

	"github.com/PuerkitoBio/goquery"
)

// SourceAdapter is implemented by every provider integration. Adapters
// return only extraction results; fetching pages and writing files is done
// by the downloader.
type SourceAdapter interface {
	// Source returns the selector this adapter serves
	Source() models.Source

	// Search finds comics by free-form title
	Search(ctx context.Context, title string) ([]models.ComicSummary, error)

	// ListChapters returns volumes and chapters for a comic id
	ListChapters(ctx context.Context, comicID string) ([]models.VolumeListing, error)

	// ResolveChapterAssets returns the ordered page references of a chapter
	ResolveChapterAssets(ctx context.Context, chapterKey string) ([]models.AssetReference, error)
}

// ProgressSink receives coarse progress while a batch runs.
type ProgressSink interface {
	Update(percent int, status string)
}

// ProgressFunc adapts a plain function to ProgressSink.
type ProgressFunc func(percent int, status string)

func (f ProgressFunc) Update(percent int, status string) { f(percent, status) }

// NopSink discards progress.
var NopSink ProgressSink = ProgressFunc(func(int, string) {})

// FetchRequest describes one rendered-page fetch.
type FetchRequest struct {
	URL          string
	WaitSelector string // CSS selector that must appear before scraping
	ClickTarget  string // optional CSS or XPath element clicked after the wait
}

// ChallengeSolver fetches pages that sit behind an anti-bot challenge.
type ChallengeSolver interface {
	SolveAndFetch(ctx context.Context, req FetchRequest) (*goquery.Document, error)
	GetSessionCookies(ctx context.Context, domain string) (map[string]string, error)
}

// SourceDeps is what adapter factories receive from the registry.
type SourceDeps struct {
	Solver     ChallengeSolver
	Sessions   *cf.SessionStore
	HTTPClient *http.Client

	RootURL    string // public base URL of the proxy-image route
	MangapiURL string // base URL of the REST proxy for mangahere/mangapill

	PaginationStallLimit int
	MaxPages             int
}
