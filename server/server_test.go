package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tankobon/config"
	"tankobon/downloader"
	"tankobon/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	src     models.Source
	comics  []models.ComicSummary
	volumes []models.VolumeListing
	err     error
}

func (s stubAdapter) Source() models.Source { return s.src }

func (s stubAdapter) Search(_ context.Context, title string) ([]models.ComicSummary, error) {
	return s.comics, s.err
}

func (s stubAdapter) ListChapters(context.Context, string) ([]models.VolumeListing, error) {
	return s.volumes, s.err
}

func (s stubAdapter) ResolveChapterAssets(context.Context, string) ([]models.AssetReference, error) {
	return nil, s.err
}

type fixture struct {
	router      *gin.Engine
	downloadDir string
}

func newFixture(t *testing.T, run config.BatchFunc, adapters ...downloader.SourceAdapter) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	downloadDir := t.TempDir()
	registry := downloader.NewStaticRegistry(adapters...)
	queue := config.NewJobQueue(registry, run, config.QueueOptions{Workers: 1, DownloadDir: downloadDir})
	queue.Start()
	t.Cleanup(queue.Shutdown)

	return fixture{
		router:      NewRouter(NewHandler(queue, registry, nil)),
		downloadDir: downloadDir,
	}
}

func (f fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndCORS(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = f.do(t, http.MethodOptions, "/download", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSources(t *testing.T) {
	f := newFixture(t, nil, stubAdapter{src: models.SourceBato}, stubAdapter{src: models.SourceMangaDex})

	w := f.do(t, http.MethodGet, "/sources", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[[]map[string]any](t, w)
	require.Len(t, got, 2)
	assert.Equal(t, "mangadex", got[0]["name"])
	assert.EqualValues(t, 9, got[1]["id"])
}

func TestSearch(t *testing.T) {
	comics := []models.ComicSummary{{ID: "abc", Title: map[string]string{"en": "Solo"}, CoverURL: "/proxy-image?url=x"}}
	f := newFixture(t, nil,
		stubAdapter{src: models.SourceMangaDex, comics: comics},
		stubAdapter{src: models.SourceBato, err: downloader.Unreachable(models.SourceBato, "search", errors.New("dial tcp"))},
		stubAdapter{src: models.SourceAsura},
	)

	w := f.do(t, http.MethodGet, "/search?title=solo&source=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[[]models.ComicSummary](t, w)
	assert.Equal(t, comics, got)

	w = f.do(t, http.MethodGet, "/search?title=solo&source=asura", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = f.do(t, http.MethodGet, "/search?title=solo&source=bato", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "bato is unreachable", decode[map[string]string](t, w)["error"])

	w = f.do(t, http.MethodGet, "/search?title=solo&source=42", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/search?title=solo&source=toongod", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "recognized source without an adapter")

	w = f.do(t, http.MethodGet, "/search?source=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChapters(t *testing.T) {
	volumes := []models.VolumeListing{{Volume: "Vol 1", Chapters: []models.ChapterEntry{{SequenceKey: "1", ID: "c1", Chapter: "1"}}}}
	f := newFixture(t, nil, stubAdapter{src: models.SourceMangaDex, volumes: volumes})

	w := f.do(t, http.MethodGet, "/chapters?id=abc&source=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, volumes, decode[[]models.VolumeListing](t, w))

	w = f.do(t, http.MethodGet, "/chapters?source=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, func(context.Context, models.JobRequest, downloader.ProgressSink) (string, error) {
		return "", errors.New("unused")
	}, stubAdapter{src: models.SourceMangaDex})

	cases := map[string]string{
		"bad json":        `{"chapterIds": `,
		"unknown source":  `{"chapterIds": ["a_1"], "source": 42}`,
		"no adapter":      `{"chapterIds": ["a_1"], "source": 6}`,
		"no chapters":     `{"chapterIds": [], "source": 0}`,
		"blank chapters":  `{"chapterIds": ["  "], "source": "0"}`,
		"unknown format":  `{"chapterIds": ["a_1"], "source": 0, "format": "docx"}`,
		"cbr unsupported": `{"chapterIds": ["a_1"], "source": 0, "format": "cbr"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/download", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestDownloadLifecycle(t *testing.T) {
	var f fixture
	f = newFixture(t, func(_ context.Context, req models.JobRequest, sink downloader.ProgressSink) (string, error) {
		batch := filepath.Join(f.downloadDir, "batch1")
		if err := os.MkdirAll(batch, 0o755); err != nil {
			return "", err
		}
		out := filepath.Join(batch, "Chapters.zip")
		sink.Update(100, "Finished")
		return out, os.WriteFile(out, []byte("PK-archive"), 0o644)
	}, stubAdapter{src: models.SourceMangaDex})

	w := f.do(t, http.MethodPost, "/download", `{"chapterIds": ["abc_1", "abc_2"], "source": "mangadex", "comicTitle": "Solo Leveling", "format": "CBZ"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[map[string]string](t, w)["task_id"]
	require.NotEmpty(t, id)

	var st map[string]any
	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/status/"+id, "")
		st = decode[map[string]any](t, w)
		return st["state"] == string(config.StateSuccess)
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "/file/"+id, st["download_url"])
	assert.NotContains(t, st, "zip_path", "internal paths stay on the server")
	assert.EqualValues(t, 2, st["total_chapters"])

	w = f.do(t, http.MethodGet, "/file/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PK-archive", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Solo_Leveling.zip")

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(f.downloadDir, "batch1"))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond, "served batches are cleaned up")

	w = f.do(t, http.MethodGet, "/file/"+id, "")
	assert.Equal(t, http.StatusGone, w.Code)

	w = f.do(t, http.MethodDelete, "/tasks/"+id, "")
	assert.Equal(t, http.StatusConflict, w.Code, "finished tasks cannot be revoked")
}

func TestStatusFailureAndRevoke(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ models.JobRequest, _ downloader.ProgressSink) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}, stubAdapter{src: models.SourceMangaDex})

	w := f.do(t, http.MethodPost, "/download", `{"chapterIds": ["abc_1"], "source": 0}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[map[string]string](t, w)["task_id"]
	<-started

	w = f.do(t, http.MethodGet, "/file/"+id, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodDelete, "/tasks/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		st := decode[map[string]any](t, f.do(t, http.MethodGet, "/status/"+id, ""))
		return st["state"] == string(config.StateFailure) && st["error"] == "revoked"
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/status/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/tasks/missing", "").Code)
}

func TestProxyImage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "https://toonily.com/", r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write([]byte("RIFFwebp"))
	}))
	defer upstream.Close()

	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/proxy-image?url="+upstream.URL+"/cover.webp&hd=https://toonily.com/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/webp", w.Header().Get("Content-Type"))
	assert.Equal(t, "RIFFwebp", w.Body.String())

	w = f.do(t, http.MethodGet, "/proxy-image?url="+upstream.URL+"/missing.jpg&hd=https://toonily.com/", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = f.do(t, http.MethodGet, "/proxy-image?url=file:///etc/passwd", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
