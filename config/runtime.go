package config

import (
	"log"
	"net/http"
	"path/filepath"

	"tankobon/cf"
	"tankobon/downloader"
)

// Services is the wired object graph shared by the server and the CLI.
type Services struct {
	Config   Config
	Bypass   *cf.BypassStore
	Sessions *cf.SessionStore
	Registry *downloader.Registry
	HTTP     *http.Client
	Manager  *downloader.Manager
}

// BypassDir holds imported challenge bypass data, one file per domain.
func (c Config) BypassDir() string {
	return filepath.Join(c.DataDir, "cf")
}

// NewServices builds the session store, the shared HTTP stack, the
// browser solver and every registered source adapter. Sources register
// themselves on import, so the caller must import the sites package.
func NewServices(c Config) *Services {
	bypass := cf.NewBypassStore(c.BypassDir(), 0)
	sessions := cf.NewSessionStore(c.SessionTTL, bypass)

	httpClient := downloader.NewHTTPStdClient(0)
	browser := downloader.NewChromeSolver(downloader.BrowserOptions{
		Headless:    c.Headless,
		ChromePath:  c.ChromePath,
		MaxSessions: c.BrowserSessions,
	}, sessions)
	executor := downloader.NewRequestExecutor(downloader.NewHTTPClient(httpClient, sessions), browser)

	registry := downloader.NewRegistry(downloader.SourceDeps{
		Solver:               executor,
		Sessions:             sessions,
		HTTPClient:           httpClient,
		RootURL:              c.RootURL,
		MangapiURL:           c.MangapiURL,
		PaginationStallLimit: c.PaginationStallLimit,
		MaxPages:             c.MaxPages,
	})

	fetcher := downloader.NewAssetFetcher(httpClient, sessions, downloader.FetchOptions{
		Timeout:      c.AssetTimeout,
		MinDimension: c.MinImageDimension,
		JPEGQuality:  c.JPEGQuality,
	})
	materializer := downloader.NewMaterializer(fetcher, c.PageInterval, c.MarkSubstitutedPages)

	log.Printf("[Config] Services ready: %d sources, downloads in %s", len(registry.Sources()), c.DownloadDir)
	return &Services{
		Config:   c,
		Bypass:   bypass,
		Sessions: sessions,
		Registry: registry,
		HTTP:     httpClient,
		Manager:  downloader.NewManager(registry, materializer, c.DownloadDir),
	}
}
