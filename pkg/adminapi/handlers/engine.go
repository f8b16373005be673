package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/lock"
	"github.com/marmos91/dittometa/pkg/metadata/metastore"
)

// Engine is the read-only view of the metadata coordinator the admin API
// needs. *metastore.MetaStore implements it.
type Engine interface {
	Stats() metastore.Stats
	ListDir(ctx context.Context, dirID string, offset, limit int) ([]string, int, error)
	GetEntryData(ctx context.Context, dirID, name string) (*metadata.DirEntry, error)
	LockStatus(ctx context.Context, info metadata.EntryInfo) (lock.StatusSnapshot, error)
}

// EngineHandler serves the inspection endpoints under /api/v1.
type EngineHandler struct {
	engine Engine
}

// NewEngineHandler creates a handler reading from engine.
func NewEngineHandler(engine Engine) *EngineHandler {
	return &EngineHandler{engine: engine}
}

// ListResponse is a page of directory entry names.
type ListResponse struct {
	DirID      string   `json:"dir_id"`
	Names      []string `json:"names"`
	NextOffset int      `json:"next_offset"`
}

// EntryResponse is a single dentry with its inode data.
type EntryResponse struct {
	Entry *metadata.DirEntry `json:"entry"`

	// Outdated is set for regular files whose size and times may lag
	// behind the storage targets.
	Outdated bool `json:"outdated,omitempty"`
}

// LockResponse is the lock state of one file.
type LockResponse struct {
	DirID   string              `json:"dir_id"`
	Name    string              `json:"name"`
	EntryID string              `json:"entry_id"`
	Locks   lock.StatusSnapshot `json:"locks"`
}

// Stats handles GET /api/v1/stats.
func (h *EngineHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse(h.engine.Stats()))
}

// ListEntries handles GET /api/v1/dirs/{dirID}/entries?offset=&limit=.
func (h *EngineHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	dirID := chi.URLParam(r, "dirID")

	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	names, next, err := h.engine.ListDir(r.Context(), dirID, offset, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, okResponse(ListResponse{DirID: dirID, Names: names, NextOffset: next}))
}

// GetEntry handles GET /api/v1/dirs/{dirID}/entries/{name}.
func (h *EngineHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	e, outdated, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, okResponse(EntryResponse{Entry: e, Outdated: outdated}))
}

// Locks handles GET /api/v1/locks/{dirID}/{name}.
func (h *EngineHandler) Locks(w http.ResponseWriter, r *http.Request) {
	e, _, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if e.Type.IsDir() {
		writeStoreError(w, errors.NewIsDirectoryError(e.Name))
		return
	}

	dirID := chi.URLParam(r, "dirID")
	snap, err := h.engine.LockStatus(r.Context(), metadata.NewEntryInfo(dirID, e))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(LockResponse{
		DirID:   dirID,
		Name:    e.Name,
		EntryID: e.EntryID,
		Locks:   snap,
	}))
}

func (h *EngineHandler) lookup(w http.ResponseWriter, r *http.Request) (*metadata.DirEntry, bool, bool) {
	dirID := chi.URLParam(r, "dirID")
	name := chi.URLParam(r, "name")
	if name == "" {
		BadRequest(w, "entry name is required")
		return nil, false, false
	}

	e, err := h.engine.GetEntryData(r.Context(), dirID, name)
	if err != nil && !errors.CodeOf(err).IsAdvisory() {
		writeStoreError(w, err)
		return nil, false, false
	}
	return e, errors.HasCode(err, errors.ErrDynamicAttribsOutdated), true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		BadRequest(w, "invalid "+key+": "+raw)
		return 0, false
	}
	return n, true
}
