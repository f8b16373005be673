package handlers

import (
	"context"
	"net/http"
	"time"
)

// Healthchecker is implemented by the record stores.
type Healthchecker interface {
	Healthcheck(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store   Healthchecker
	backend string
}

// NewHealthHandler creates a health handler. store may be nil, in which case
// the readiness probe always fails.
func NewHealthHandler(store Healthchecker, backend string) *HealthHandler {
	return &HealthHandler{store: store, backend: backend}
}

// StoreHealth is the readiness payload.
type StoreHealth struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Liveness handles GET /healthz and succeeds while the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "dittometa",
	}))
}

// Readiness handles GET /healthz/ready by probing the record store.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("record store not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := h.store.Healthcheck(ctx)
	health := StoreHealth{
		Backend: h.backend,
		Status:  "healthy",
		Latency: time.Since(start).String(),
	}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
		resp := unhealthyResponse(err.Error())
		resp.Data = health
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(health))
}
