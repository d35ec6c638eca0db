package model

import (
	"encoding/json"
	"time"
)

// Error codes surfaced in the error envelope. These are the wire-level
// taxonomy; HTTP status mapping lives in the server package.
const (
	ErrCodeInvalidInput    = "InvalidInput"
	ErrCodeUnauthorized    = "Unauthorized"
	ErrCodeNotFound        = "NotFound"
	ErrCodeConflict        = "Conflict"
	ErrCodePayloadTooLarge = "PayloadTooLarge"
	ErrCodeBusy            = "Busy"
	ErrCodeStorageError    = "StorageError"
	ErrCodeTimeout         = "Timeout"
)

// APIError is the error response envelope.
type APIError struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// RunDTO is the payload for POST /ingest/run and the run element of a batch.
type RunDTO struct {
	RunID         string            `json:"run_id,omitempty"`
	BuildID       *string           `json:"build_id,omitempty"`
	PlanName      string            `json:"plan_name"`
	Env           map[string]string `json:"env,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	RunnerVersion *string           `json:"runner_version,omitempty"`
}

// RunResponse is the success body for POST /ingest/run.
type RunResponse struct {
	RunID string `json:"run_id"`
}

// TestsRequest is the payload for POST /ingest/tests.
type TestsRequest struct {
	RunID     string    `json:"run_id"`
	ValidFrom time.Time `json:"valid_from"`
	Tests     []TestDTO `json:"tests"`
}

// TestDTO is one test outcome inside an ingest payload. The enclosing
// request's valid_from becomes the fact's valid_from.
type TestDTO struct {
	Name        string          `json:"name"`
	Suite       string          `json:"suite"`
	Guidance    *string         `json:"guidance,omitempty"`
	Status      TestStatus      `json:"status"`
	DurationMS  *int32          `json:"duration_ms,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// TestsResponse is the success body for POST /ingest/tests.
type TestsResponse struct {
	FactIDs []string `json:"fact_ids"`
}

// SignalsRequest is the payload for POST /ingest/signals.
type SignalsRequest struct {
	RunID   string      `json:"run_id"`
	Signals []SignalDTO `json:"signals"`
}

// SignalDTO is one signal inside an ingest payload. A signal may reference a
// test by test_id or by test_name; name resolution happens against the
// currently-open facts of the run.
type SignalDTO struct {
	Kind      SignalKind     `json:"kind"`
	TestName  *string        `json:"test_name,omitempty"`
	TestID    *string        `json:"test_id,omitempty"`
	LatencyMS *int32         `json:"latency_ms,omitempty"`
	Value     *float64       `json:"value,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	At        time.Time      `json:"at"`
}

// SignalsResponse is the success body for POST /ingest/signals.
type SignalsResponse struct {
	SignalIDs []string `json:"signal_ids"`
}

// ArtifactsRequest is the payload for POST /ingest/artifacts.
type ArtifactsRequest struct {
	RunID     string        `json:"run_id"`
	Artifacts []ArtifactDTO `json:"artifacts"`
}

// ArtifactDTO is one artifact inside an ingest payload.
type ArtifactDTO struct {
	Kind        ArtifactKind `json:"kind"`
	TestName    *string      `json:"test_name,omitempty"`
	TestID      *string      `json:"test_id,omitempty"`
	Path        string       `json:"path"`
	ContentHash string       `json:"content_hash"`
	SizeBytes   *int64       `json:"size_bytes,omitempty"`
	MimeType    *string      `json:"mime_type,omitempty"`
}

// ArtifactsResponse is the success body for POST /ingest/artifacts.
type ArtifactsResponse struct {
	ArtifactIDs []string `json:"artifact_ids"`
}

// BatchRequest is the payload for POST /ingest/batch. The whole batch commits
// in one transaction: either every contained record persists or none does.
// valid_from applies to the contained tests; it defaults to run.started_at.
type BatchRequest struct {
	Run       RunDTO        `json:"run"`
	ValidFrom *time.Time    `json:"valid_from,omitempty"`
	Tests     []TestDTO     `json:"tests,omitempty"`
	Signals   []SignalDTO   `json:"signals,omitempty"`
	Artifacts []ArtifactDTO `json:"artifacts,omitempty"`
}

// BatchResponse is the success body for POST /ingest/batch.
type BatchResponse struct {
	RunID  string         `json:"run_id"`
	Counts map[string]int `json:"counts"`
}

// Query kinds accepted by POST /query.
const (
	QueryCurrentTests = "current_tests"
	QueryTimeshift    = "timeshift"
	QueryCausality    = "causality"
	QueryResonance    = "resonance"
	QueryStability    = "stability"
)

// QueryRequest is the tagged payload for POST /query. Kind selects the shape;
// fields that the selected kind does not use are ignored.
type QueryRequest struct {
	Kind          string     `json:"kind"`
	RunID         string     `json:"run_id,omitempty"`
	ValidAt       *time.Time `json:"valid_at,omitempty"`
	TxAt          *time.Time `json:"tx_at,omitempty"`
	WindowSeconds *int       `json:"window_seconds,omitempty"`
	BucketSeconds *int       `json:"bucket_seconds,omitempty"`
	TestName      string     `json:"test_name,omitempty"`
	LookbackRuns  *int       `json:"lookback_runs,omitempty"`
}

// QueryResponse is the success body for POST /query.
type QueryResponse struct {
	Rows []any `json:"rows"`
}
