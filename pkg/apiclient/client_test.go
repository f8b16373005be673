package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "http://localhost:8480", New("localhost:8480").baseURL)
	assert.Equal(t, "https://node:1", New("https://node:1/").baseURL)
}

func TestGet_DecodesData(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stats", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"status":"ok","data":{"cached_dirs":3,"inlined_files":2}}`))
	}))
	defer server.Close()

	stats, err := New(server.URL).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.CachedDirs)
	assert.Equal(t, 2, stats.InlinedFiles)
}

func TestGet_APIError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "error",
			"error":  "path does not exist",
			"code":   "PathNotExists",
		})
	}))
	defer server.Close()

	_, err := New(server.URL).Locks(context.Background(), "root", "nope")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "PathNotExists", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "PathNotExists")
}

func TestGet_PlainTextError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metadata engine not available", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL).ListEntries(context.Background(), "root", 0, 10)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsUnavailable())
	assert.Equal(t, "HTTP 503: metadata engine not available", apiErr.Error())
}

func TestGetEntry_EscapesPath(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/dirs/root/entries/a%20b", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"status":"ok","data":{"entry":{"name":"a b"},"outdated":true}}`))
	}))
	defer server.Close()

	e, err := New(server.URL).GetEntry(context.Background(), "root", "a b")
	require.NoError(t, err)
	assert.True(t, e.Outdated)
	assert.JSONEq(t, `{"name":"a b"}`, string(e.Entry))
}
