package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/dispatcher"
	"github.com/JakeFAU/comic-tracker/internal/metrics"
	"github.com/JakeFAU/comic-tracker/internal/mirror"
)

const requestTimeout = 60 * time.Second

// PassRunner runs one scrape pass over the configured publishers.
type PassRunner interface {
	RunPass(ctx context.Context) (dispatcher.PassReport, error)
}

// AlertFlusher exposes the pending alert batch.
type AlertFlusher interface {
	Flush(ctx context.Context) (int, error)
	Pending() int
}

// Catalog is the catalog surface used by the operational routes.
type Catalog interface {
	Ping(ctx context.Context) error
	RepairMirror(ctx context.Context) (mirror.RepairReport, error)
}

// Config holds server options.
type Config struct {
	APIKey string
}

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router  chi.Router
	passes  PassRunner
	alerts  AlertFlusher
	catalog Catalog
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(passes PassRunner, alerts AlertFlusher, catalog Catalog, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		passes:  passes,
		alerts:  alerts,
		catalog: catalog,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.With(timeoutMiddleware(requestTimeout)).Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		// A pass is bounded by the fetch timeouts of its targets, not by the request timeout.
		r.Post("/passes", s.runPass)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Post("/alerts/flush", s.flushAlerts)
			r.Post("/mirror/repair", s.repairMirror)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Ping(r.Context()); err != nil {
		s.logger.Warn("catalog not ready", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) runPass(w http.ResponseWriter, r *http.Request) {
	report, err := s.passes.RunPass(r.Context())
	switch {
	case errors.Is(err, dispatcher.ErrPassInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("pass failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "pass failed")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) flushAlerts(w http.ResponseWriter, r *http.Request) {
	sent, err := s.alerts.Flush(r.Context())
	if err != nil {
		s.logger.Warn("alert flush failed", zap.Error(err))
		s.writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "alert delivery failed",
			"pending": s.alerts.Pending(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

func (s *Server) repairMirror(w http.ResponseWriter, r *http.Request) {
	report, err := s.catalog.RepairMirror(r.Context())
	if err != nil {
		s.logger.Error("mirror repair failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "mirror repair failed")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
