package downloader

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tankobon/models"
	"tankobon/parser"
)

// SubstitutedMarker lists, one per line, the pages of a chapter directory
// that are placeholders rather than real content.
const SubstitutedMarker = ".substituted"

// ChapterResult summarizes one materialized chapter.
type ChapterResult struct {
	Dir          string
	Created      bool // false when an existing directory was reused
	Pages        int
	Placeholders int
	Rejected     int
}

// Materializer turns a list of asset references into a chapter directory.
type Materializer struct {
	fetcher         *AssetFetcher
	pageInterval    time.Duration
	markSubstituted bool
}

// NewMaterializer creates a materializer. pageInterval spaces out page
// requests; zero fetches back to back.
func NewMaterializer(fetcher *AssetFetcher, pageInterval time.Duration, markSubstituted bool) *Materializer {
	return &Materializer{
		fetcher:         fetcher,
		pageInterval:    pageInterval,
		markSubstituted: markSubstituted,
	}
}

// Materialize downloads assets in order into destRoot/<label>. An existing
// directory is reused after its old pages and marker are cleared. Either
// every page was handled or, on a fatal error, the directory is gone.
func (m *Materializer) Materialize(ctx context.Context, assets []models.AssetReference, label, destRoot string) (ChapterResult, error) {
	dir := filepath.Join(destRoot, parser.SanitizeLabel(label))
	_, statErr := os.Stat(dir)
	created := os.IsNotExist(statErr)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ChapterResult{}, &FatalIOError{Path: dir, Err: err}
	}
	if !created {
		if err := clearPages(dir); err != nil {
			return ChapterResult{}, &FatalIOError{Path: dir, Err: err}
		}
	}

	limiter := parser.NewRateLimiter(m.pageInterval)
	defer limiter.Stop()

	result := ChapterResult{Dir: dir, Created: created}
	var substituted []string

	for i, ref := range assets {
		if err := limiter.Wait(ctx); err != nil {
			os.RemoveAll(dir)
			return ChapterResult{}, err
		}

		res, err := m.fetcher.Fetch(ctx, ref, filepath.Join(dir, fmt.Sprintf("%03d", i)))
		if err != nil {
			log.Printf("[Materializer:%s] ✗ Page %d failed, removing chapter: %v", label, i, err)
			os.RemoveAll(dir)
			return ChapterResult{}, err
		}

		switch res.Status {
		case PageOK:
			result.Pages++
		case PagePlaceholder:
			result.Pages++
			result.Placeholders++
			substituted = append(substituted, filepath.Base(res.Path))
		case PageRejected:
			result.Rejected++
		}
	}

	if m.markSubstituted && len(substituted) > 0 {
		marker := filepath.Join(dir, SubstitutedMarker)
		if err := os.WriteFile(marker, []byte(strings.Join(substituted, "\n")+"\n"), 0o644); err != nil {
			os.RemoveAll(dir)
			return ChapterResult{}, &FatalIOError{Path: marker, Err: err}
		}
	}

	log.Printf("[Materializer:%s] ✓ %d pages (%d placeholders, %d dropped)",
		label, result.Pages, result.Placeholders, result.Rejected)
	return result, nil
}

// clearPages removes the files a previous run left in dir.
func clearPages(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ReadSubstituted returns the placeholder page names recorded in dir.
func ReadSubstituted(dir string) map[string]bool {
	data, err := os.ReadFile(filepath.Join(dir, SubstitutedMarker))
	if err != nil {
		return nil
	}
	out := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out[line] = true
		}
	}
	return out
}
