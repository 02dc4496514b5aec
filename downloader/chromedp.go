package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"tankobon/cf"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is presented by both the browser and the plain HTTP
// paths so harvested clearance cookies stay valid across them.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// BrowserOptions configures the headless browser used for challenge-gated
// sources.
type BrowserOptions struct {
	Headless        bool
	ChromePath      string
	UserAgent       string
	NavigateTimeout time.Duration
	SelectorTimeout time.Duration
	ChallengeWait   time.Duration // how long a challenge may take to clear itself
	MaxSessions     int           // concurrent browsers
}

func (o BrowserOptions) withDefaults() BrowserOptions {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.NavigateTimeout <= 0 {
		o.NavigateTimeout = 60 * time.Second
	}
	if o.SelectorTimeout <= 0 {
		o.SelectorTimeout = 20 * time.Second
	}
	if o.ChallengeWait <= 0 {
		o.ChallengeWait = 15 * time.Second
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = 1
	}
	return o
}

// BrowserSession manages one chromedp browser for one domain
type BrowserSession struct {
	ctx     context.Context
	cancel  context.CancelFunc
	domain  string
	cookies map[string]string
	opts    BrowserOptions
}

// NewBrowserSession starts a browser. cookies, if any, are injected before
// the first navigation.
func NewBrowserSession(ctx context.Context, domain string, cookies map[string]string, opts BrowserOptions) *BrowserSession {
	opts = opts.withDefaults()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(opts.UserAgent),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
	)
	if opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	return &BrowserSession{
		ctx:     browserCtx,
		cancel:  func() { cancelBrowser(); cancelAlloc() },
		domain:  domain,
		cookies: cookies,
		opts:    opts,
	}
}

// Navigate injects the session cookies and loads url
func (bs *BrowserSession) Navigate(target string) error {
	ctx, cancel := context.WithTimeout(bs.ctx, bs.opts.NavigateTimeout)
	defer cancel()

	var tasks []chromedp.Action
	if len(bs.cookies) > 0 {
		params := make([]*network.CookieParam, 0, len(bs.cookies))
		for name, value := range bs.cookies {
			params = append(params, &network.CookieParam{
				Name:   name,
				Value:  value,
				Domain: "." + bs.domain,
				Path:   "/",
			})
		}
		log.Printf("[Browser:%s] Injecting %d cookies", bs.domain, len(params))
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params).Do(ctx)
		}))
	}
	tasks = append(tasks, chromedp.Navigate(target), chromedp.WaitReady("body"))

	err := chromedp.Run(ctx, tasks...)
	cf.LogCFBrowserAction("navigate", target, len(bs.cookies), err)
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// SolveChallenge polls the rendered page until no challenge markers remain
// or ChallengeWait runs out. Interstitial JS challenges clear themselves in
// a real browser; anything still present afterwards needs an operator.
func (bs *BrowserSession) SolveChallenge(target string) error {
	deadline := time.Now().Add(bs.opts.ChallengeWait)
	for {
		html, err := bs.GetHTML()
		if err != nil {
			return fmt.Errorf("failed to read page: %w", err)
		}

		isCF, info := cf.DetectBody(200, nil, []byte(html))
		if !isCF {
			return nil
		}
		if time.Now().After(deadline) {
			log.Printf("[Browser:%s] ⚠️ Challenge still present after %v", bs.domain, bs.opts.ChallengeWait)
			return &cf.CfChallengeError{
				URL:        cf.GetChallengeURL(info, target),
				StatusCode: info.StatusCode,
				Indicators: info.Indicators,
			}
		}

		log.Printf("[Browser:%s] Challenge detected, waiting for it to clear", bs.domain)
		select {
		case <-bs.ctx.Done():
			return bs.ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// WaitFor blocks until selector is visible
func (bs *BrowserSession) WaitFor(selector string) error {
	if selector == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(bs.ctx, bs.opts.SelectorTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && bs.ctx.Err() == nil {
			return fmt.Errorf("%w: %s", ErrSelectorTimeout, selector)
		}
		return err
	}
	return nil
}

// Click presses target (CSS or XPath). Missing targets are not an error,
// the button is often absent when everything is already shown.
func (bs *BrowserSession) Click(target string) {
	ctx, cancel := context.WithTimeout(bs.ctx, 5*time.Second)
	defer cancel()

	if err := chromedp.Run(ctx,
		chromedp.Click(target, chromedp.BySearch, chromedp.NodeVisible),
		chromedp.Sleep(1500*time.Millisecond),
	); err != nil {
		log.Printf("[Browser:%s] Click target %q not clicked: %v", bs.domain, target, err)
	}
}

// GetHTML returns the page HTML
func (bs *BrowserSession) GetHTML() (string, error) {
	ctx, cancel := context.WithTimeout(bs.ctx, 10*time.Second)
	defer cancel()

	var html string
	err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html))
	return html, err
}

// Cookies harvests the cookies the browser holds for the current page
func (bs *BrowserSession) Cookies() (map[string]string, error) {
	ctx, cancel := context.WithTimeout(bs.ctx, 10*time.Second)
	defer cancel()

	var cookies []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		if strings.HasSuffix(strings.TrimPrefix(c.Domain, "."), bs.domain) {
			out[c.Name] = c.Value
		}
	}
	return out, nil
}

// Close closes the browser session
func (bs *BrowserSession) Close() {
	if bs.cancel != nil {
		bs.cancel()
	}
}

// ChromeSolver is the browser-backed ChallengeSolver. Each call gets its
// own browser; MaxSessions bounds how many run at once.
type ChromeSolver struct {
	opts     BrowserOptions
	sessions *cf.SessionStore
	slots    chan struct{}
}

// NewChromeSolver creates a solver that records harvested cookies in sessions
func NewChromeSolver(opts BrowserOptions, sessions *cf.SessionStore) *ChromeSolver {
	opts = opts.withDefaults()
	return &ChromeSolver{
		opts:     opts,
		sessions: sessions,
		slots:    make(chan struct{}, opts.MaxSessions),
	}
}

func (s *ChromeSolver) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChromeSolver) release() { <-s.slots }

// SolveAndFetch runs NAVIGATE, CHALLENGE_SOLVE, WAIT_FOR_SELECTOR and SCRAPE
// against a fresh browser and returns the rendered document.
func (s *ChromeSolver) SolveAndFetch(ctx context.Context, req FetchRequest) (*goquery.Document, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	domain := cf.NormalizeDomain(u.Host)

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	cookies, _ := s.sessions.Get(domain)
	bs := NewBrowserSession(ctx, domain, cookies, s.opts)
	defer bs.Close()

	log.Printf("[Browser:%s] Fetching %s", domain, req.URL)
	if err := bs.Navigate(req.URL); err != nil {
		return nil, err
	}
	if err := bs.SolveChallenge(req.URL); err != nil {
		s.sessions.Invalidate(domain)
		return nil, err
	}
	if err := bs.WaitFor(req.WaitSelector); err != nil {
		return nil, err
	}
	if req.ClickTarget != "" {
		bs.Click(req.ClickTarget)
	}

	html, err := bs.GetHTML()
	if err != nil {
		return nil, fmt.Errorf("failed to get HTML: %w", err)
	}

	if harvested, err := bs.Cookies(); err == nil && len(harvested) > 0 {
		s.sessions.Put(domain, harvested, s.opts.UserAgent)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	log.Printf("[Browser:%s] ✓ Rendered %d bytes", domain, len(html))
	return doc, nil
}

// GetSessionCookies returns cached cookies for domain or harvests a fresh
// set by visiting its front page.
func (s *ChromeSolver) GetSessionCookies(ctx context.Context, domain string) (map[string]string, error) {
	domain = cf.NormalizeDomain(domain)
	if cookies, ok := s.sessions.Get(domain); ok {
		return cookies, nil
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	bs := NewBrowserSession(ctx, domain, nil, s.opts)
	defer bs.Close()

	target := "https://" + domain + "/"
	if err := bs.Navigate(target); err != nil {
		return nil, err
	}
	if err := bs.SolveChallenge(target); err != nil {
		return nil, err
	}

	cookies, err := bs.Cookies()
	if err != nil {
		return nil, err
	}
	s.sessions.Put(domain, cookies, s.opts.UserAgent)
	log.Printf("[Browser:%s] ✓ Harvested %d cookies", domain, len(cookies))
	return cookies, nil
}
