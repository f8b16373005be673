package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/adminapi/handlers"
)

// Deps are the components the admin API reads from. Any of them may be nil;
// the matching routes then report the component as unavailable.
type Deps struct {
	Engine   handlers.Engine
	Store    handlers.Healthchecker
	Backend  string
	Gatherer prometheus.Gatherer
}

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /healthz - Liveness probe
//   - GET /healthz/ready - Record store probe
//   - GET /metrics - Prometheus exposition
//   - GET /api/v1/stats - Cache occupancy of the coordinator
//   - GET /api/v1/dirs/{dirID}/entries - Paged directory listing
//   - GET /api/v1/dirs/{dirID}/entries/{name} - Dentry and inode data
//   - GET /api/v1/locks/{dirID}/{name} - Lock queues of a file
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := handlers.NewHealthHandler(deps.Store, deps.Backend)
	r.Route("/healthz", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Engine == nil {
			r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "metadata engine not available", http.StatusServiceUnavailable)
			})
			return
		}

		engine := handlers.NewEngineHandler(deps.Engine)
		r.Use(traced)
		r.Get("/stats", engine.Stats)
		r.Get("/dirs/{dirID}/entries", engine.ListEntries)
		r.Get("/dirs/{dirID}/entries/{name}", engine.GetEntry)
		r.Get("/locks/{dirID}/{name}", engine.Locks)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/healthz", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs every request using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("Admin request started",
			"request_id", requestID,
			"method", r.Method,
			logger.Path(r.URL.Path),
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logger.WithFields(r.Context(), "request_id", requestID)))

		logger.Debug("Admin request completed",
			"request_id", requestID,
			"method", r.Method,
			logger.Path(r.URL.Path),
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(float64(time.Since(start).Microseconds())/1000),
		)
	})
}

// traced wraps the engine routes in an admin span.
func traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.StartAdminSpan(r.Context(), r.Method,
			attribute.String("http.target", r.URL.Path))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		attrs := []attribute.KeyValue{attribute.Int("http.status_code", ww.Status())}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			attrs = append(attrs, attribute.String("http.route", rctx.RoutePattern()))
		}
		span.SetAttributes(attrs...)
	})
}
