package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/liminalqa/liminal/internal/analytics"
	"github.com/liminalqa/liminal/internal/facts"
	"github.com/liminalqa/liminal/internal/ident"
	"github.com/liminalqa/liminal/internal/model"
	"github.com/liminalqa/liminal/internal/storage"
	"github.com/liminalqa/liminal/internal/telemetry"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db            *storage.DB
	mgr           *facts.Manager
	queries       *analytics.Service
	sink          telemetry.Sink
	logger        *slog.Logger
	version       string
	bodyMaxBytes  int64
	batchMaxBytes int64
}

// instrument wraps a handler with the per-endpoint request counter and
// latency histogram, plus the pool-saturation backpressure check.
func (h *Handlers) instrument(endpoint string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.poolSaturated() {
			h.sink.IncIngestRequest(endpoint, "5xx")
			writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeBusy, "storage pool exhausted, retry later")
			return
		}

		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		fn(wrapped, r)

		h.sink.IncIngestRequest(endpoint, statusClass(wrapped.statusCode))
		h.sink.ObserveIngestLatency(endpoint, time.Since(start).Seconds())
	})
}

// poolSaturated reports whether every pooled connection is in use with none
// idle. Requests are rejected instead of queuing unboundedly.
func (h *Handlers) poolSaturated() bool {
	stat := h.db.Pool().Stat()
	return stat.AcquiredConns() >= stat.MaxConns()
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		OK:      true,
		Service: "liminal",
		Version: h.version,
	})
}

// handleDecodeError maps a JSON decode failure to 400 or 413.
func (h *Handlers) handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if isBodyTooLarge(err) {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
}

// handleDomainError maps manager/storage errors onto the wire taxonomy.
func (h *Handlers) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ident.ErrInvalidID), errors.Is(err, storage.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, storage.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, model.ErrCodeTimeout, "request deadline exceeded")
	default:
		h.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeStorageError, "storage error")
	}
}
