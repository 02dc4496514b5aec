package sites

import (
	"tankobon/downloader"
	"tankobon/models"
)

// NewManhuausSite builds the manhuaus.com adapter.
func NewManhuausSite(deps downloader.SourceDeps) downloader.SourceAdapter {
	return newMadaraSite(deps, models.SourceManhuaus, "manhuaus", "https://manhuaus.com", "div.c-tabs-item")
}

// NewYakshascansSite builds the yakshascans.com adapter. Its search page
// has no tab wrapper, so the wait is on the result rows themselves.
func NewYakshascansSite(deps downloader.SourceDeps) downloader.SourceAdapter {
	return newMadaraSite(deps, models.SourceYakshascans, "yakshascans", "https://yakshascans.com", "div.row.c-tabs-item__content")
}
