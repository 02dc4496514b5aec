package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"tankobon/cf"

	"github.com/gocolly/colly"
)

// ErrTransport marks a request that never produced an HTTP response.
var ErrTransport = errors.New("transport failure")

// HTTPStatusError is a non-2xx answer from an API.
type HTTPStatusError struct {
	URL  string
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("API returned status %d for %s", e.Code, e.URL)
}

// APIClient handles JSON APIs using colly
type APIClient struct {
	name      string
	collector *colly.Collector
	sessions  *cf.SessionStore
}

// NewAPIClient creates an API client. transport may be nil for the colly
// default; sessions may be nil for sources without challenge protection.
func NewAPIClient(name string, transport http.RoundTripper, sessions *cf.SessionStore) *APIClient {
	collector := colly.NewCollector(
		colly.UserAgent(DefaultUserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(30 * time.Second)
	collector.ParseHTTPErrorResponse = true
	if transport != nil {
		collector.WithTransport(transport)
	}

	return &APIClient{
		name:      name,
		collector: collector,
		sessions:  sessions,
	}
}

// FetchJSON makes a GET request and unmarshals the JSON response
func (c *APIClient) FetchJSON(ctx context.Context, url string, result interface{}) error {
	body, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// PostJSON sends payload as a JSON body (GraphQL and friends) and
// unmarshals the response into result.
func (c *APIClient) PostJSON(ctx context.Context, url string, payload, result interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Accept", "application/json")

	body, err := c.do(ctx, http.MethodPost, url, data, hdr)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// FetchRaw makes a GET request and returns the raw response body
func (c *APIClient) FetchRaw(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil, nil)
}

func (c *APIClient) do(ctx context.Context, method, url string, data []byte, hdr http.Header) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// a clone per request keeps callbacks from piling up on the shared
	// collector while still sharing its transport and cookie jar
	col := c.collector.Clone()
	if _, err := cf.ApplyToCollector(col, url, c.sessions); err != nil {
		log.Printf("[%s] Could not apply session: %v", c.name, err)
	}

	var (
		responseData []byte
		statusCode   int
		fetchErr     error
	)

	col.OnResponse(func(r *colly.Response) {
		if _, err := cf.DecompressResponse(r, "["+c.name+"]"); err != nil {
			log.Printf("[%s] Failed to decompress response: %v", c.name, err)
		}
		statusCode = r.StatusCode
		responseData = r.Body

		if statusCode >= 400 {
			if isCF, info := cf.DetectFromColly(r); isCF {
				log.Printf("[%s] ⚠️ Cloudflare challenge detected", c.name)
				if c.sessions != nil {
					c.sessions.Invalidate(r.Request.URL.Hostname())
				}
				fetchErr = &cf.CfChallengeError{
					URL:        cf.GetChallengeURL(info, url),
					StatusCode: info.StatusCode,
					Indicators: info.Indicators,
				}
			}
		}
	})

	var body *bytes.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	var err error
	if body != nil {
		err = col.Request(method, url, body, nil, hdr)
	} else {
		err = col.Request(method, url, nil, nil, hdr)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, url, err)
	}
	col.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if statusCode < 200 || statusCode > 299 {
		return nil, &HTTPStatusError{URL: url, Code: statusCode}
	}
	return responseData, nil
}
