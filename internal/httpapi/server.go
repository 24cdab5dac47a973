// Package httpapi is the orchestrator's control plane: a chi router exposing
// enqueue/status/list/pause/resume/retry/delete, file serving under the
// storage root, presets, health/readiness, and Prometheus metrics (spec §6.2).
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"downloaderd/internal/config"
	"downloaderd/internal/extractor"
	"downloaderd/internal/logger"
	"downloaderd/internal/metrics"
	"downloaderd/internal/ratelimit"
	"downloaderd/internal/storage"
)

// activeCanceller is the subset of *scheduler.Scheduler the control plane
// needs: signalling a pause to a job currently admitted into the pool.
type activeCanceller interface {
	CancelActive(jobID string) bool
}

// Server wires the Store and Scheduler to the HTTP surface.
type Server struct {
	store     *storage.Store
	scheduler activeCanceller
	cfg       *config.Config
	router    *chi.Mux
}

// New builds a Server with all routes registered.
func New(store *storage.Store, scheduler activeCanceller, cfg *config.Config) *Server {
	s := &Server{
		store:     store,
		scheduler: scheduler,
		cfg:       cfg,
		router:    chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP makes Server usable directly as an http.Handler (e.g. in
// http.ListenAndServe or httptest.NewServer).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.metricsMiddleware)

	s.router.Post("/download", s.rateLimited(ratelimit.EnqueueLimiter, "POST /download", s.handleDownload))
	s.router.Post("/delete", s.rateLimited(ratelimit.JobControlLimiter, "POST /delete", s.handleLegacyDelete))

	s.router.Get("/api/presets", s.handlePresets)
	s.router.Get("/api/status/{id}", s.rateLimited(ratelimit.QueryLimiter, "GET /api/status", s.handleStatus))
	s.router.Get("/api/jobs", s.rateLimited(ratelimit.QueryLimiter, "GET /api/jobs", s.handleListJobs))
	s.router.Post("/api/jobs/{id}/pause", s.rateLimited(ratelimit.JobControlLimiter, "POST /api/jobs/pause", s.handlePause))
	s.router.Post("/api/jobs/{id}/resume", s.rateLimited(ratelimit.JobControlLimiter, "POST /api/jobs/resume", s.handleResume))
	s.router.Post("/api/jobs/{id}/retry", s.rateLimited(ratelimit.JobControlLimiter, "POST /api/jobs/retry", s.handleRetry))
	s.router.Delete("/api/jobs/{id}", s.rateLimited(ratelimit.JobControlLimiter, "DELETE /api/jobs", s.handleDeleteJob))

	s.router.Get("/files/*", s.handleFiles)

	s.router.Get("/metrics", metrics.Handler().ServeHTTP)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.NotFound(s.handleCatchAll)
}

// rateLimited denies the request with 429 before the handler runs if the
// named endpoint's bucket is empty. endpoint is only the limiter's bucket
// key; the metrics middleware labels requests by chi's route pattern.
func (s *Server) rateLimited(limiter *ratelimit.PerEndpointLimiter, endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(endpoint) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "rate_limited"})
			return
		}
		next(w, r)
	}
}

// requestIDMiddleware stamps every response with X-Request-ID (spec §6.2).
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code a handler wrote, for metrics and
// structured logging after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records http_requests_total and
// http_request_duration_seconds per spec §6.5, plus an http_request log line.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		elapsed := time.Since(start).Seconds()
		metrics.ObserveHTTPRequest(r.Method, route, statusClass(rec.status), elapsed)
		logger.Log.Info().
			Str("event", "http_request").
			Str("method", r.Method).Str("route", route).
			Int("status", rec.status).Dur("elapsed", time.Since(start)).
			Msg("http_request")
	})
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// presetIDs is used by validate.Preset at the enqueue routes; kept here so
// the closed set is read once rather than re-built per request.
var presetIDs = extractor.PresetIDs()
