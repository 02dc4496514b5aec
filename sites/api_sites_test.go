package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"tankobon/downloader"
	"tankobon/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMangadexServer(t *testing.T, atHomeHits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/manga", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "one piece", r.URL.Query().Get("title"))
		fmt.Fprint(w, `{"result":"ok","data":[{"id":"abc","attributes":{
			"title":{"en":"One Piece"},"availableTranslatedLanguages":["en","fr"]},
			"relationships":[{"type":"author","attributes":{}},{"type":"cover_art","attributes":{"fileName":"c.jpg"}}]}]}`)
	})
	mux.HandleFunc("/manga/abc/aggregate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"ok","volumes":{
			"10":{"volume":"10","chapters":{"95":{"chapter":"95","id":"c95"}}},
			"2":{"volume":"2","chapters":{"10.5":{"chapter":"10.5","id":"c105"},"10":{"chapter":"10","id":"c10"},"9":{"chapter":"9","id":"c9"}}},
			"none":{"volume":"none","chapters":[]}}}`)
	})
	mux.HandleFunc("/manga/empty/aggregate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"ok","volumes":[]}`)
	})
	mux.HandleFunc("/at-home/server/good", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"ok","baseUrl":"https://node.example","chapter":{"hash":"h1","data":["1.png","2.png"]}}`)
	})
	mux.HandleFunc("/at-home/server/flaky", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(atHomeHits, 1)
		fmt.Fprint(w, `{"result":"ok","baseUrl":"","chapter":{"hash":"","data":[]}}`)
	})
	mux.HandleFunc("/at-home/server/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"result":"error"}`, http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMangadexSearch(t *testing.T) {
	var hits int32
	srv := newMangadexServer(t, &hits)
	site := newMangadexSite(downloader.SourceDeps{RootURL: "http://proxy.local"}, srv.URL)

	results, err := site.Search(context.Background(), "one piece")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "abc", results[0].ID)
	assert.Equal(t, "One Piece", results[0].Title["en"])
	assert.Equal(t, []string{"en", "fr"}, results[0].Languages)
	assert.Equal(t,
		"http://proxy.local/proxy-image?url=https%3A%2F%2Fuploads.mangadex.org%2Fcovers%2Fabc%2Fc.jpg.256.jpg&hd=",
		results[0].CoverURL)
}

func TestMangadexListChaptersSortsNumerically(t *testing.T) {
	var hits int32
	srv := newMangadexServer(t, &hits)
	site := newMangadexSite(downloader.SourceDeps{}, srv.URL)

	listings, err := site.ListChapters(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, listings, 3)

	assert.Equal(t, "Vol 2", listings[0].Volume)
	assert.Equal(t, "Vol 10", listings[1].Volume)
	assert.Equal(t, "Vol none", listings[2].Volume)
	assert.Empty(t, listings[2].Chapters)

	var ids []string
	for _, ch := range listings[0].Chapters {
		ids = append(ids, ch.ID)
	}
	assert.Equal(t, []string{"c9", "c10", "c105"}, ids)
	assert.Equal(t, "10.5", listings[0].Chapters[2].Chapter)
}

func TestMangadexEmptyAggregate(t *testing.T) {
	var hits int32
	srv := newMangadexServer(t, &hits)
	site := newMangadexSite(downloader.SourceDeps{}, srv.URL)

	listings, err := site.ListChapters(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestMangadexResolveChapterAssets(t *testing.T) {
	var hits int32
	srv := newMangadexServer(t, &hits)
	site := newMangadexSite(downloader.SourceDeps{}, srv.URL)

	t.Run("complete", func(t *testing.T) {
		assets, err := site.ResolveChapterAssets(context.Background(), "good")
		require.NoError(t, err)
		assert.Equal(t, []models.AssetReference{
			{URL: "https://node.example/data/h1/1.png"},
			{URL: "https://node.example/data/h1/2.png"},
		}, assets)
	})

	t.Run("incomplete responses exhaust retries", func(t *testing.T) {
		_, err := site.ResolveChapterAssets(context.Background(), "flaky")
		require.Error(t, err)
		assert.True(t, downloader.IsFatal(err))
		assert.EqualValues(t, mangadexAtHomeTries, atomic.LoadInt32(&hits))
	})

	t.Run("missing chapter is not fatal", func(t *testing.T) {
		_, err := site.ResolveChapterAssets(context.Background(), "gone")
		require.Error(t, err)
		assert.False(t, downloader.IsFatal(err))
	})
}

func TestMangadexUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	site := newMangadexSite(downloader.SourceDeps{}, base)
	_, err := site.Search(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, downloader.IsFatal(err))
}

// newBatoServer answers the n-th chapter-list query with pages[n] and an
// empty page once they run out.
func newBatoServer(t *testing.T, pages [][]string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ap2/", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req graphQLRequest
		if !assert.NoError(t, json.Unmarshal(body, &req)) {
			return
		}

		switch {
		case strings.Contains(req.Query, "get_comic_chapterList"):
			n := atomic.AddInt32(calls, 1) - 1
			var items []string
			if int(n) < len(pages) {
				items = pages[n]
			}
			fmt.Fprintf(w, `{"data":{"get_comic_chapterList":[%s]}}`, strings.Join(items, ","))
		case strings.Contains(req.Query, "get_chapterNode"):
			if req.Variables["getChapterNodeId"] == "missing" {
				fmt.Fprint(w, `{"data":{"get_chapterNode":null}}`)
				return
			}
			fmt.Fprint(w, `{"data":{"get_chapterNode":{"data":{"imageFile":{"urlList":["https://x/1.webp","https://x/2.webp"]}}}}}`)
		case strings.Contains(req.Query, "get_search_comic"):
			fmt.Fprint(w, `{"data":{"get_search_comic":{"items":[{"data":{"id":"77","name":"Tower","urlCover300":"/thumb/77.jpg","urlPath":"/title/77"}}]}}}`)
		default:
			t.Errorf("unexpected query %q", req.Query)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func batoItem(id, volume, serial string) string {
	return fmt.Sprintf(`{"data":{"id":%q,"volume":%s,"count_images":10,"serial":%s}}`, id, volume, serial)
}

func TestBatoListChaptersPaginates(t *testing.T) {
	var calls int32
	srv := newBatoServer(t, [][]string{
		{batoItem("1", "1", "1"), batoItem("2", "1", "2")},
		{batoItem("2", "1", "2"), batoItem("3", "null", "3")},
	}, &calls)
	site := newBatoSite(downloader.SourceDeps{}, srv.URL)

	listings, err := site.ListChapters(context.Background(), "77")
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	require.Len(t, listings, 1)
	assert.Equal(t, models.DefaultVolume, listings[0].Volume)
	var ids []string
	for _, ch := range listings[0].Chapters {
		ids = append(ids, ch.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestBatoListChaptersStopsWhenStalled(t *testing.T) {
	var calls int32
	repeat := []string{batoItem("9", "2", "9")}
	srv := newBatoServer(t, [][]string{repeat, repeat, repeat, repeat}, &calls)
	site := newBatoSite(downloader.SourceDeps{PaginationStallLimit: 2}, srv.URL)

	listings, err := site.ListChapters(context.Background(), "77")
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	require.Len(t, listings, 1)
	assert.Equal(t, "Vol 2", listings[0].Volume)
	assert.Len(t, listings[0].Chapters, 1)
}

func TestBatoListChaptersRespectsMaxPages(t *testing.T) {
	var calls int32
	pages := make([][]string, 10)
	for i := range pages {
		pages[i] = []string{batoItem(fmt.Sprint(i), "1", fmt.Sprint(i+1))}
	}
	srv := newBatoServer(t, pages, &calls)
	site := newBatoSite(downloader.SourceDeps{MaxPages: 4}, srv.URL)

	listings, err := site.ListChapters(context.Background(), "77")
	require.NoError(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
	assert.Len(t, listings[0].Chapters, 4)
}

func TestBatoImagesAndSearch(t *testing.T) {
	var calls int32
	srv := newBatoServer(t, nil, &calls)
	site := newBatoSite(downloader.SourceDeps{}, srv.URL)

	assets, err := site.ResolveChapterAssets(context.Background(), "500")
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "https://x/2.webp", assets[1].URL)

	_, err = site.ResolveChapterAssets(context.Background(), "missing")
	require.Error(t, err)
	assert.False(t, downloader.IsFatal(err))

	results, err := site.Search(context.Background(), "tower")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, srv.URL+"/thumb/77.jpg", results[0].CoverURL)
}

func TestImageHeaderShapes(t *testing.T) {
	var pages []mangapiPage
	require.NoError(t, json.Unmarshal([]byte(`[
		{"page":1,"img":"a","headerForImage":"https://ref.one"},
		{"page":2,"img":"b","headerForImage":{"Referer":"https://ref.two"}},
		{"page":3,"img":"c","headerForImage":null},
		{"page":4,"img":"d"}
	]`), &pages))
	assert.Equal(t, imageHeader("https://ref.one"), pages[0].HeaderForImage)
	assert.Equal(t, imageHeader("https://ref.two"), pages[1].HeaderForImage)
	assert.Equal(t, imageHeader(""), pages[2].HeaderForImage)
	assert.Equal(t, imageHeader(""), pages[3].HeaderForImage)
}

func newMangapiServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/manga/mangahere/info", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tower_of_god", r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"chapters":[
			{"id":"tower_of_god/v01/c001","title":"Vol.01 Ch.001 - Ball"},
			{"id":"tower_of_god/v01/c002","title":"Vol.01 Ch.002"},
			{"id":"tower_of_god/c003.5","title":"Ch.003.5 Extra"}]}`)
	})
	mux.HandleFunc("/manga/mangahere/read", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"page":0,"img":"https://zjcdn/1.jpg","headerForImage":{"Referer":"https://www.mangahere.cc/"}}]`)
	})
	mux.HandleFunc("/manga/mangapill/info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chapters":[{"id":"2-10001000","title":"Chapter 1","chapter":"1"},{"id":"2-10002500","title":"Chapter 2.5","chapter":""}]}`)
	})
	mux.HandleFunc("/manga/mangapill/read", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"page":1,"img":"https://cdn.readdetectiveconan.com/1.jpeg","headerForImage":"https://ignored"}]`)
	})
	mux.HandleFunc("/manga/mangapill/solo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"id":"2/solo-leveling","title":"Solo Leveling","image":"https://cdn/cover.jpg"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMangahereGroupsVolumes(t *testing.T) {
	srv := newMangapiServer(t)
	site := NewMangahereSite(downloader.SourceDeps{MangapiURL: srv.URL})

	listings, err := site.ListChapters(context.Background(), "tower_of_god")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Vol 1", listings[0].Volume)
	require.Len(t, listings[0].Chapters, 3)
	assert.Equal(t, "1", listings[0].Chapters[0].Chapter)
	assert.Equal(t, "3.5", listings[0].Chapters[2].Chapter)

	assets, err := site.ResolveChapterAssets(context.Background(), "tower_of_god/v01/c001")
	require.NoError(t, err)
	assert.Equal(t, []models.AssetReference{{URL: "https://zjcdn/1.jpg", Referer: "https://www.mangahere.cc/"}}, assets)
}

func TestMangapillUsesFixedReferer(t *testing.T) {
	srv := newMangapiServer(t)
	site := NewMangapillSite(downloader.SourceDeps{MangapiURL: srv.URL, RootURL: "http://proxy"})

	listings, err := site.ListChapters(context.Background(), "2/solo-leveling")
	require.NoError(t, err)
	require.Len(t, listings[0].Chapters, 2)
	assert.Equal(t, "2.5", listings[0].Chapters[1].Chapter)

	assets, err := site.ResolveChapterAssets(context.Background(), "2-10001000")
	require.NoError(t, err)
	assert.Equal(t, mangapillReferer, assets[0].Referer)

	results, err := site.Search(context.Background(), "solo")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].CoverURL, "hd=https%3A%2F%2Fmangapill.com")
}
