// Package server implements the authenticated HTTP ingest and query surface.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/liminalqa/liminal/internal/analytics"
	"github.com/liminalqa/liminal/internal/auth"
	"github.com/liminalqa/liminal/internal/facts"
	"github.com/liminalqa/liminal/internal/ratelimit"
	"github.com/liminalqa/liminal/internal/storage"
	"github.com/liminalqa/liminal/internal/telemetry"
)

// Server is the liminal HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Limiter and Sink are optional (nil = disabled / discarded).
type ServerConfig struct {
	// Required dependencies.
	DB       *storage.DB
	Manager  *facts.Manager
	Queries  *analytics.Service
	Verifier *auth.Verifier
	Logger   *slog.Logger

	// Optional dependencies.
	Limiter ratelimit.Limiter
	Sink    telemetry.Sink

	// HTTP server settings.
	BindAddr       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	Version        string
	BodyMaxBytes   int64
	BatchMaxBytes  int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.Unlimited{}
	}
	if cfg.Sink == nil {
		cfg.Sink = telemetry.NoopSink{}
	}

	h := &Handlers{
		db:            cfg.DB,
		mgr:           cfg.Manager,
		queries:       cfg.Queries,
		sink:          cfg.Sink,
		logger:        cfg.Logger,
		version:       cfg.Version,
		bodyMaxBytes:  cfg.BodyMaxBytes,
		batchMaxBytes: cfg.BatchMaxBytes,
	}

	mux := http.NewServeMux()

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Ingest endpoints.
	mux.Handle("POST /ingest/run", h.instrument("/ingest/run", h.HandleIngestRun))
	mux.Handle("POST /ingest/tests", h.instrument("/ingest/tests", h.HandleIngestTests))
	mux.Handle("POST /ingest/signals", h.instrument("/ingest/signals", h.HandleIngestSignals))
	mux.Handle("POST /ingest/artifacts", h.instrument("/ingest/artifacts", h.HandleIngestArtifacts))
	mux.Handle("POST /ingest/batch", h.instrument("/ingest/batch", h.HandleIngestBatch))

	// Query endpoints.
	mux.Handle("POST /query", h.instrument("/query", h.HandleQuery))
	mux.Handle("GET /resonance/flaky", h.instrument("/resonance/flaky", h.HandleFlakyTests))

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → rate limit → timeout →
	// recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = timeoutMiddleware(cfg.RequestTimeout, handler)
	handler = rateLimitMiddleware(cfg.Limiter, handler)
	handler = authMiddleware(cfg.Verifier, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.BindAddr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
