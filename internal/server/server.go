package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"siembridge/internal/aggregate"
	"siembridge/internal/cache"
	"siembridge/internal/metrics"
	"siembridge/internal/scheduler"
	"siembridge/internal/upstream"
)

// Server wraps HTTP serving of the aggregated read API.
type Server struct {
	httpServer *http.Server
	store      cache.Store
	jobs       map[string]scheduler.Job
	aggregator *aggregate.Aggregator
	recorder   *metrics.Recorder
	logger     *slog.Logger

	pushInterval time.Duration
}

// New creates a configured HTTP server. jobs are the same definitions the
// scheduler runs; the server reuses them for read-through on a cold cache.
func New(addr string, store cache.Store, jobs []scheduler.Job, aggregator *aggregate.Aggregator, recorder *metrics.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	byKey := make(map[string]scheduler.Job, len(jobs))
	for _, job := range jobs {
		byKey[job.CacheKey] = job
	}

	s := &Server{
		store:        store,
		jobs:         byKey,
		aggregator:   aggregator,
		recorder:     recorder,
		logger:       logger,
		pushInterval: 10 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/agents-summary", s.handleEndpoint("agents-summary"))
	r.Get("/dashboard-metrics", s.handleEndpoint("dashboard-metrics"))
	r.Get("/alerts", s.handleEndpoint("alerts"))
	r.Get("/alerts/ws", s.handleAlertsWS)
	r.Get("/manager-stats", s.handleManagerStats)
	r.Get("/severity-summary", s.handleSeveritySummary)
	r.Get("/refresh-status", s.handleRefreshStatus)
	r.Get("/healthz", s.handleHealth)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleEndpoint serves a logical endpoint from the cache, fresh or stale.
// A genuine miss falls through to a synchronous aggregation that also
// populates the cache; a cache read error degrades to the same path.
func (s *Server) handleEndpoint(key string) http.HandlerFunc {
	job := s.jobs[key]
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok, err := s.store.Get(r.Context(), job.CacheKey)
		if err != nil {
			s.logger.Warn("cache read failed, aggregating directly", "endpoint", job.Name, "error", err)
		}
		if err == nil && ok {
			w.Header().Set("X-Cache", "HIT")
			writeRaw(w, http.StatusOK, entry.Value)
			return
		}

		payload, err := scheduler.Materialize(r.Context(), s.store, s.logger, job)
		if err != nil {
			s.logger.Error("synchronous aggregation failed", "endpoint", job.Name, "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("X-Cache", "MISS")
		writeRaw(w, http.StatusOK, payload)
	}
}

func (s *Server) handleManagerStats(w http.ResponseWriter, r *http.Request) {
	raw, err := s.aggregator.ManagerStats(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (s *Server) handleSeveritySummary(w http.ResponseWriter, r *http.Request) {
	raw, err := s.aggregator.SeveritySummary(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	stats := []metrics.JobStats{}
	if s.recorder != nil {
		if snapshot := s.recorder.Snapshot(); snapshot != nil {
			stats = snapshot
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": stats})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "cache store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeUpstreamError surfaces the upstream status code when one exists.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var upErr *upstream.Error
	if errors.As(err, &upErr) && upErr.StatusCode > 0 {
		writeError(w, upErr.StatusCode, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
