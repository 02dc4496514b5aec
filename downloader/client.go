package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"tankobon/cf"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"golang.org/x/net/publicsuffix"
)

// NewTransport returns the round tripper shared by every outgoing request.
// The bypass wrapper aligns the TLS fingerprint and default headers with a
// desktop browser, which is enough for sites on the lower challenge tiers.
func NewTransport() http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	return cloudflarebp.AddCloudFlareByPass(base)
}

// NewHTTPStdClient builds an *http.Client with the bypass transport and a
// public-suffix aware cookie jar.
func NewHTTPStdClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{
		Transport: NewTransport(),
		Jar:       jar,
		Timeout:   timeout,
	}
}

// HTTPClient fetches HTML pages with cached session cookies, retries on
// timeouts, decompression and challenge detection.
type HTTPClient struct {
	httpClient  *http.Client
	sessions    *cf.SessionStore
	maxRetries  int
	baseTimeout time.Duration
}

// NewHTTPClient creates a page client. client may be nil.
func NewHTTPClient(client *http.Client, sessions *cf.SessionStore) *HTTPClient {
	if client == nil {
		client = NewHTTPStdClient(0)
	}
	return &HTTPClient{
		httpClient:  client,
		sessions:    sessions,
		maxRetries:  3,
		baseTimeout: 15 * time.Second,
	}
}

// FetchHTML fetches HTML content from a URL with automatic retry and CF handling
func (c *HTTPClient) FetchHTML(ctx context.Context, targetURL string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		timeout := c.baseTimeout + time.Duration(attempt)*5*time.Second
		if attempt > 0 {
			log.Printf("[HTTPClient] Retry attempt %d/%d (timeout: %v) for: %s",
				attempt+1, c.maxRetries, timeout, targetURL)
		}

		html, err := c.fetchHTMLAttempt(ctx, targetURL, timeout)
		if err == nil {
			return html, nil
		}

		if _, isCfErr := cf.IscfChallenge(err); isCfErr {
			return "", err
		}

		lastErr = err
		if !isTimeout(err) || ctx.Err() != nil {
			return "", err
		}

		log.Printf("[HTTPClient] ⚠️ Timeout on attempt %d/%d: %v", attempt+1, c.maxRetries, err)
		if attempt < c.maxRetries-1 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}

// fetchHTMLAttempt performs a single HTTP request attempt
func (c *HTTPClient) fetchHTMLAttempt(ctx context.Context, targetURL string, timeout time.Duration) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if !cf.ApplyToRequest(req, c.sessions) {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	decompressed, wasCompressed, err := cf.DecompressResponseBody(bodyBytes, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return "", fmt.Errorf("failed to decompress response: %w", err)
	}
	if wasCompressed {
		bodyBytes = decompressed
	}

	if isCF, info := cf.DetectBody(resp.StatusCode, resp.Header, bodyBytes); isCF {
		log.Printf("[HTTPClient] ⚠️ Cloudflare challenge detected at %s", targetURL)
		if c.sessions != nil {
			c.sessions.Invalidate(req.URL.Hostname())
		}
		return "", &cf.CfChallengeError{
			URL:        cf.GetChallengeURL(info, targetURL),
			StatusCode: info.StatusCode,
			Indicators: info.Indicators,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return string(bodyBytes), nil
}
