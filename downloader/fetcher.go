package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"tankobon/cf"
	"tankobon/models"
	"tankobon/parser"
)

// PageStatus is the outcome of fetching one asset.
type PageStatus int

const (
	PageOK          PageStatus = iota
	PagePlaceholder            // fetch or decode failed, placeholder written instead
	PageRejected               // below minimum dimension, nothing written
)

func (s PageStatus) String() string {
	switch s {
	case PageOK:
		return "ok"
	case PagePlaceholder:
		return "placeholder"
	case PageRejected:
		return "rejected"
	}
	return "unknown"
}

// FetchResult describes what Fetch left on disk.
type FetchResult struct {
	Path   string // empty when rejected
	Status PageStatus
	Format string // format the source delivered, before normalization
}

// FetchOptions tune the asset fetcher.
type FetchOptions struct {
	Timeout      time.Duration
	MinDimension int
	JPEGQuality  int
}

// AssetFetcher downloads a single page image and stores it normalized.
type AssetFetcher struct {
	client   *http.Client
	sessions *cf.SessionStore
	opts     FetchOptions

	writeFile func(path string, data []byte) error
}

// NewAssetFetcher creates a fetcher. sessions may be nil.
func NewAssetFetcher(client *http.Client, sessions *cf.SessionStore, opts FetchOptions) *AssetFetcher {
	if client == nil {
		client = NewHTTPStdClient(0)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MinDimension <= 0 {
		opts.MinDimension = 72
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 90
	}
	return &AssetFetcher{
		client:    client,
		sessions:  sessions,
		opts:      opts,
		writeFile: writeFileAtomic,
	}
}

// Fetch downloads ref and writes it to destBase plus the canonical
// extension. Fetch and decode failures are absorbed by writing the
// placeholder so page count and order survive; only a failed write or a
// cancelled ctx is returned as an error.
func (f *AssetFetcher) Fetch(ctx context.Context, ref models.AssetReference, destBase string) (FetchResult, error) {
	dest := destBase + ".jpg"

	data, hint, err := f.download(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return FetchResult{}, ctx.Err()
		}
		log.Printf("[Fetcher] ⚠️ %s: %v, using placeholder", ref.URL, err)
		return f.writePlaceholder(dest)
	}

	out, format, err := parser.NormalizeImage(data, hint, f.opts.MinDimension, f.opts.JPEGQuality)
	if err != nil {
		var small *parser.TooSmallError
		if errors.As(err, &small) {
			log.Printf("[Fetcher] Dropping %s: %v", ref.URL, err)
			return FetchResult{Status: PageRejected, Format: format}, nil
		}
		log.Printf("[Fetcher] ⚠️ %s: %v, using placeholder", ref.URL, err)
		return f.writePlaceholder(dest)
	}

	if err := f.writeFile(dest, out); err != nil {
		return FetchResult{}, &FatalIOError{Path: dest, Err: err}
	}
	return FetchResult{Path: dest, Status: PageOK, Format: format}, nil
}

func (f *AssetFetcher) writePlaceholder(dest string) (FetchResult, error) {
	data, err := parser.Placeholder(f.opts.JPEGQuality)
	if err != nil {
		return FetchResult{}, &FatalIOError{Path: dest, Err: err}
	}
	if err := f.writeFile(dest, data); err != nil {
		return FetchResult{}, &FatalIOError{Path: dest, Err: err}
	}
	return FetchResult{Path: dest, Status: PagePlaceholder, Format: parser.CanonicalFormat}, nil
}

// download returns the body and the format hinted by the URL extension
func (f *AssetFetcher) download(ctx context.Context, ref models.AssetReference) ([]byte, string, error) {
	u, err := url.Parse(ref.URL)
	if err != nil {
		return nil, "", fmt.Errorf("bad asset url: %w", err)
	}
	hint := parser.FormatFromExtension(path.Ext(u.Path))

	reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, hint, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	if ref.Referer != "" {
		req.Header.Set("Referer", ref.Referer)
	}
	if ref.CookieDomain != "" && f.sessions != nil {
		if cookies, ok := f.sessions.Get(ref.CookieDomain); ok {
			for _, c := range cf.ToHTTPCookies(cookies) {
				req.AddCookie(c)
			}
			if ua := f.sessions.UserAgent(ref.CookieDomain); ua != "" {
				req.Header.Set("User-Agent", ua)
			}
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, hint, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, hint, fmt.Errorf("bad response status: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, hint, err
	}
	if len(data) == 0 {
		return nil, hint, errors.New("empty response body")
	}
	return data, hint, nil
}

// writeFileAtomic writes through a dot-prefixed temp file in the same
// directory so a crash never leaves a half-written page under its final name.
func writeFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".page-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
