package downloader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tankobon/cf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manga":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"result":"ok","data":[{"id":"abc"}]}`))
		case "/graphql":
			if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(map[string]interface{}{"echo": body["query"]})
		case "/challenge":
			w.Header().Set("Server", "cloudflare")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(challengePage))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAPIClientFetchJSON(t *testing.T) {
	srv := newAPIServer(t)
	var out struct {
		Result string `json:"result"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, NewAPIClient("test", nil, nil).FetchJSON(context.Background(), srv.URL+"/manga", &out))
	assert.Equal(t, "ok", out.Result)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "abc", out.Data[0].ID)
}

func TestAPIClientPostJSON(t *testing.T) {
	srv := newAPIServer(t)
	var out struct {
		Echo string `json:"echo"`
	}
	payload := map[string]interface{}{"query": "query get_search_comic", "variables": map[string]string{"word": "x"}}
	require.NoError(t, NewAPIClient("test", nil, nil).PostJSON(context.Background(), srv.URL+"/graphql", payload, &out))
	assert.Equal(t, "query get_search_comic", out.Echo)
}

func TestAPIClientErrors(t *testing.T) {
	srv := newAPIServer(t)
	client := NewAPIClient("test", nil, cf.NewSessionStore(0, nil))

	_, err := client.FetchRaw(context.Background(), srv.URL+"/missing")
	var status *HTTPStatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.Code)

	_, err = client.FetchRaw(context.Background(), srv.URL+"/challenge")
	_, isCF := cf.IscfChallenge(err)
	assert.True(t, isCF)

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	_, err = client.FetchRaw(context.Background(), closed.URL+"/manga")
	assert.ErrorIs(t, err, ErrTransport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.FetchRaw(ctx, srv.URL+"/manga")
	assert.ErrorIs(t, err, context.Canceled)
}
