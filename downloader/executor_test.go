package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tankobon/cf"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBrowser struct {
	html     string
	err      error
	requests []FetchRequest
	cookies  map[string]string
}

func (b *stubBrowser) SolveAndFetch(_ context.Context, req FetchRequest) (*goquery.Document, error) {
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(b.html))
}

func (b *stubBrowser) GetSessionCookies(context.Context, string) (map[string]string, error) {
	return b.cookies, nil
}

const challengePage = `<html><head><title>Just a moment...</title></head>
<body><form id="challenge-form" action="/cdn-cgi/challenge-platform/x"></form></body></html>`

func newPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/static":
			w.Write([]byte(`<html><body><ul class="main"><li>one</li></ul></body></html>`))
		case "/shell":
			w.Write([]byte(`<html><body><div id="app"></div></body></html>`))
		case "/challenge":
			w.Header().Set("Server", "cloudflare")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(challengePage))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestExecutor(browser ChallengeSolver) *RequestExecutor {
	return NewRequestExecutor(NewHTTPClient(&http.Client{}, cf.NewSessionStore(0, nil)), browser)
}

func TestExecutorPrefersStaticFetch(t *testing.T) {
	srv := newPageServer(t)
	browser := &stubBrowser{}

	doc, err := newTestExecutor(browser).SolveAndFetch(context.Background(),
		FetchRequest{URL: srv.URL + "/static", WaitSelector: "ul.main"})
	require.NoError(t, err)
	assert.Equal(t, "one", doc.Find("ul.main li").Text())
	assert.Empty(t, browser.requests)
}

func TestExecutorFallsBackToBrowser(t *testing.T) {
	srv := newPageServer(t)

	cases := map[string]FetchRequest{
		"selector missing": {URL: srv.URL + "/shell", WaitSelector: "ul.main"},
		"challenged":       {URL: srv.URL + "/challenge"},
		"http error":       {URL: srv.URL + "/gone"},
		"needs click":      {URL: srv.URL + "/static", ClickTarget: "button.more"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			browser := &stubBrowser{html: `<ul class="main"><li>rendered</li></ul>`}
			doc, err := newTestExecutor(browser).SolveAndFetch(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, "rendered", doc.Find("li").Text())
			require.Len(t, browser.requests, 1)
			assert.Equal(t, req, browser.requests[0])
		})
	}
}

func TestExecutorWithoutBrowser(t *testing.T) {
	srv := newPageServer(t)

	_, err := newTestExecutor(nil).SolveAndFetch(context.Background(), FetchRequest{URL: srv.URL + "/challenge"})
	assert.Error(t, err)

	_, err = newTestExecutor(nil).GetSessionCookies(context.Background(), "example.com")
	assert.Error(t, err)
}

func TestExecutorPropagatesBrowserErrors(t *testing.T) {
	srv := newPageServer(t)
	browser := &stubBrowser{err: &cf.CfChallengeError{URL: srv.URL, StatusCode: 403}}

	_, err := newTestExecutor(browser).SolveAndFetch(context.Background(), FetchRequest{URL: srv.URL + "/challenge"})
	_, isCF := cf.IscfChallenge(err)
	assert.True(t, isCF)

	browser.err = errors.Join(ErrSelectorTimeout, errors.New("div#chapter-list"))
	_, err = newTestExecutor(browser).SolveAndFetch(context.Background(), FetchRequest{URL: srv.URL + "/shell", WaitSelector: "div#chapter-list"})
	assert.ErrorIs(t, err, ErrSelectorTimeout)
}

func TestFetchHTMLInvalidatesChallengedSession(t *testing.T) {
	srv := newPageServer(t)
	sessions := cf.NewSessionStore(0, nil)
	host := strings.TrimPrefix(srv.URL, "http://")
	sessions.Put(host, map[string]string{"cf_clearance": "stale"}, "")

	_, err := NewHTTPClient(&http.Client{}, sessions).FetchHTML(context.Background(), srv.URL+"/challenge")
	_, isCF := cf.IscfChallenge(err)
	require.True(t, isCF)

	_, ok := sessions.Get(host)
	assert.False(t, ok)
}
