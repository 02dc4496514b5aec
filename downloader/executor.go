package downloader

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RequestExecutor decides the cheapest way to get a page: a plain HTTP
// fetch with cached cookies first, the browser only when that comes back
// challenged, broken, or without the element the caller waits for.
type RequestExecutor struct {
	httpClient *HTTPClient
	browser    ChallengeSolver
}

// NewRequestExecutor creates a new request executor. Either side may be
// nil, but not both.
func NewRequestExecutor(httpClient *HTTPClient, browser ChallengeSolver) *RequestExecutor {
	return &RequestExecutor{httpClient: httpClient, browser: browser}
}

// SolveAndFetch implements ChallengeSolver
func (e *RequestExecutor) SolveAndFetch(ctx context.Context, req FetchRequest) (*goquery.Document, error) {
	log.Printf("[Executor] Fetching: %s", req.URL)

	// clicks need a live page
	if req.ClickTarget == "" && e.httpClient != nil {
		doc, err := e.fetchStatic(ctx, req)
		if err == nil {
			log.Printf("[Executor] ✓ HTTP fetch successful")
			return doc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[Executor] HTTP path failed (%v), trying browser", err)
	}

	if e.browser == nil {
		return nil, fmt.Errorf("no browser available for %s", req.URL)
	}
	return e.browser.SolveAndFetch(ctx, req)
}

func (e *RequestExecutor) fetchStatic(ctx context.Context, req FetchRequest) (*goquery.Document, error) {
	html, err := e.httpClient.FetchHTML(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if req.WaitSelector != "" && doc.Find(req.WaitSelector).Length() == 0 {
		return nil, fmt.Errorf("%q not in static HTML", req.WaitSelector)
	}
	return doc, nil
}

// GetSessionCookies implements ChallengeSolver
func (e *RequestExecutor) GetSessionCookies(ctx context.Context, domain string) (map[string]string, error) {
	if e.browser == nil {
		return nil, fmt.Errorf("no browser available to harvest cookies for %s", domain)
	}
	return e.browser.GetSessionCookies(ctx, domain)
}
