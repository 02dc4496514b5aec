package cf

import (
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/gocolly/colly"
)

// browserHeaders are sent with every replayed session so the request
// looks like the navigation that earned the cookies.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Accept-Encoding":           "gzip, deflate, br",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
}

// ApplyToCollector installs the cached session for targetURL's domain on a
// colly collector. It reports whether any cookies were applied.
func ApplyToCollector(c *colly.Collector, targetURL string, sessions *SessionStore) (bool, error) {
	if sessions == nil {
		return false, nil
	}
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("failed to parse URL: %w", err)
	}

	domain := parsedURL.Hostname()
	cookies, ok := sessions.Get(domain)
	if !ok {
		return false, nil
	}

	if err := c.SetCookies(targetURL, ToHTTPCookies(cookies)); err != nil {
		return false, fmt.Errorf("failed to set cookies: %w", err)
	}
	if ua := sessions.UserAgent(domain); ua != "" {
		c.UserAgent = ua
	}
	c.OnRequest(func(r *colly.Request) {
		for k, v := range browserHeaders {
			if r.Headers.Get(k) == "" {
				r.Headers.Set(k, v)
			}
		}
	})

	log.Printf("[cf] ✓ Applied %d session cookies for %s", len(cookies), domain)
	return true, nil
}

// ApplyToRequest adds the cached session for req's host to a plain
// net/http request.
func ApplyToRequest(req *http.Request, sessions *SessionStore) bool {
	if sessions == nil {
		return false
	}
	domain := req.URL.Hostname()
	cookies, ok := sessions.Get(domain)
	if !ok {
		return false
	}
	for _, c := range ToHTTPCookies(cookies) {
		req.AddCookie(c)
	}
	if ua := sessions.UserAgent(domain); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	for k, v := range browserHeaders {
		if req.Header.Get(k) == "" && k != "Accept-Encoding" {
			req.Header.Set(k, v)
		}
	}
	return true
}
