package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittometa/pkg/adminapi/handlers"
	"github.com/marmos91/dittometa/pkg/config"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
	"github.com/marmos91/dittometa/pkg/metadata/lock"
	"github.com/marmos91/dittometa/pkg/metadata/metastore"
	"github.com/marmos91/dittometa/pkg/metadata/store"
	"github.com/marmos91/dittometa/pkg/metadata/store/memory"
	"github.com/marmos91/dittometa/pkg/metrics"
)

type env struct {
	ctx    context.Context
	m      *metastore.MetaStore
	server *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	records := memory.NewMemoryRecordStore()
	m, err := metastore.New(ctx, metastore.Options{
		Records:        records,
		Layout:         store.NewLayout(4),
		NodeID:         1,
		DefaultPattern: metadata.NewRaid0Pattern(metadata.DefaultChunkSize, 2, nil),
		Metrics:        metrics.NewStoreMetrics(reg),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(Deps{
		Engine:   m,
		Store:    records,
		Backend:  "memory",
		Gatherer: reg,
	}))
	t.Cleanup(func() {
		srv.Close()
		assert.NoError(t, m.Close(ctx))
	})
	return &env{ctx: ctx, m: m, server: srv}
}

func (e *env) get(t *testing.T, path string) (int, handlers.Response) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body handlers.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

// ============================================================================
// Router
// ============================================================================

func TestRouter_Health(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	status, body := e.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body.Status)

	status, body = e.get(t, "/healthz/ready")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "memory", body.Data.(map[string]any)["backend"])
}

func TestRouter_ListAndStat(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	for _, name := range []string{"a", "b"} {
		_, err := e.m.MkNewMetaFile(e.ctx, metadata.RootDirID, metastore.MkFileRequest{
			Name: name,
			Type: metadata.EntryTypeRegularFile,
			Mode: 0o644,
		})
		require.NoError(t, err)
	}

	status, body := e.get(t, "/api/v1/dirs/root/entries")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"a", "b"}, body.Data.(map[string]any)["names"])

	status, body = e.get(t, "/api/v1/dirs/root/entries/b")
	require.Equal(t, http.StatusOK, status)
	entry := body.Data.(map[string]any)["entry"].(map[string]any)
	assert.Equal(t, "b", entry["name"])

	status, body = e.get(t, "/api/v1/dirs/root/entries/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "PathNotExists", body.Code)

	status, body = e.get(t, "/api/v1/stats")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body.Data, "cached_dirs")
}

func TestRouter_Locks(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	fe, err := e.m.MkNewMetaFile(e.ctx, metadata.RootDirID, metastore.MkFileRequest{
		Name: "f",
		Type: metadata.EntryTypeRegularFile,
		Mode: 0o644,
	})
	require.NoError(t, err)
	info := metadata.NewEntryInfo(metadata.RootDirID, fe)

	f, err := e.m.OpenFile(e.ctx, info, inode.AccessWrite, false)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = e.m.CloseFile(e.ctx, f, inode.AccessWrite) })

	_, _, err = e.m.FlockEntry(e.ctx, info, lock.Request{
		ClientNumID: 3, Handle: 9, AckID: "ack-1", Kind: lock.KindExclusive,
	})
	require.NoError(t, err)

	status, body := e.get(t, "/api/v1/locks/root/f")
	require.Equal(t, http.StatusOK, status)

	raw, err := json.Marshal(body.Data)
	require.NoError(t, err)
	var got handlers.LockResponse
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, fe.EntryID, got.EntryID)
	require.NotNil(t, got.Locks.Entry.Exclusive)
	assert.Equal(t, "ack-1", got.Locks.Entry.Exclusive.AckID)
}

func TestRouter_Metrics(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, _ = e.get(t, "/api/v1/dirs/root/entries")

	resp, err := http.Get(e.server.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(out), "dittometa_store_operations_total")
}

func TestRouter_NoEngine(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(NewRouter(Deps{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/stats")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ============================================================================
// Server lifecycle
// ============================================================================

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	s := NewServer(config.AdminConfig{Enabled: true, Listen: "127.0.0.1:0"}, Deps{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	// A second stop is a no-op.
	assert.NoError(t, s.Stop(context.Background()))
}

func TestServer_ListenError(t *testing.T) {
	t.Parallel()
	s := NewServer(config.AdminConfig{Listen: "256.0.0.1:bad"}, Deps{})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "listen"))
}
