// Package model defines the core domain types for the liminal store.
//
// Entities map directly to database tables. Types use strong typing
// (string enums, time.Time, pointers for optional fields) and avoid
// interface{} except where the schema is deliberately free JSON
// (test errors, signal metadata).
package model

import (
	"encoding/json"
	"time"
)

// TestStatus is the outcome of a single test execution.
type TestStatus string

const (
	StatusPass    TestStatus = "pass"
	StatusFail    TestStatus = "fail"
	StatusXFail   TestStatus = "xfail"
	StatusFlake   TestStatus = "flake"
	StatusTimeout TestStatus = "timeout"
	StatusSkip    TestStatus = "skip"
)

// TestStatuses lists every valid status, in display order.
var TestStatuses = []TestStatus{StatusPass, StatusFail, StatusXFail, StatusFlake, StatusTimeout, StatusSkip}

// Valid reports whether s is a known status.
func (s TestStatus) Valid() bool {
	switch s {
	case StatusPass, StatusFail, StatusXFail, StatusFlake, StatusTimeout, StatusSkip:
		return true
	}
	return false
}

// Failed reports whether the status counts as a failure for causality
// analysis (fail or timeout).
func (s TestStatus) Failed() bool {
	return s == StatusFail || s == StatusTimeout
}

// SignalKind categorizes a low-level observation.
type SignalKind string

const (
	SignalUI        SignalKind = "ui"
	SignalAPI       SignalKind = "api"
	SignalWebsocket SignalKind = "websocket"
	SignalGRPC      SignalKind = "grpc"
	SignalDatabase  SignalKind = "database"
	SignalNetwork   SignalKind = "network"
	SignalSystem    SignalKind = "system"
)

// Valid reports whether k is a known signal kind.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalUI, SignalAPI, SignalWebsocket, SignalGRPC, SignalDatabase, SignalNetwork, SignalSystem:
		return true
	}
	return false
}

// ArtifactKind categorizes a stored artifact.
type ArtifactKind string

const (
	ArtifactScreenshot  ArtifactKind = "screenshot"
	ArtifactAPIResponse ArtifactKind = "api_response"
	ArtifactWSMessage   ArtifactKind = "ws_message"
	ArtifactGRPCTrace   ArtifactKind = "grpc_trace"
	ArtifactLog         ArtifactKind = "log"
	ArtifactVideo       ArtifactKind = "video"
	ArtifactTrace       ArtifactKind = "trace"
)

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactScreenshot, ArtifactAPIResponse, ArtifactWSMessage,
		ArtifactGRPCTrace, ArtifactLog, ArtifactVideo, ArtifactTrace:
		return true
	}
	return false
}

// RunState is the lifecycle state of a run: open until an ingest supplies
// ended_at, closed afterwards.
type RunState string

const (
	RunOpen   RunState = "open"
	RunClosed RunState = "closed"
)

// System is a system under test. Immutable.
type System struct {
	SystemID   string    `json:"system_id"`
	Name       string    `json:"name"`
	Version    *string   `json:"version,omitempty"`
	Repository *string   `json:"repository,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Build is one build of a system. Immutable.
type Build struct {
	BuildID   string    `json:"build_id"`
	SystemID  string    `json:"system_id"`
	CommitSHA string    `json:"commit_sha"`
	Branch    string    `json:"branch"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is one hermetic execution of a test plan. ended_at may be filled by a
// later ingest of the same run_id (monotonic idempotent close).
type Run struct {
	RunID         string            `json:"run_id"`
	BuildID       *string           `json:"build_id,omitempty"`
	PlanName      string            `json:"plan_name"`
	Env           map[string]string `json:"env"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	RunnerVersion *string           `json:"runner_version,omitempty"`
	TxAt          time.Time         `json:"tx_at"`
}

// State derives the lifecycle state from ended_at.
func (r Run) State() RunState {
	if r.EndedAt != nil {
		return RunClosed
	}
	return RunOpen
}

// TestFact is one bi-temporal version of a test outcome. The row is believed
// true in the world during [valid_from, valid_to); valid_to equal to the
// infinity sentinel marks the currently-open version. tx_at is assigned by
// the engine, never by producers.
type TestFact struct {
	FactID      string          `json:"fact_id"`
	RunID       string          `json:"run_id"`
	TestName    string          `json:"test_name"`
	Suite       string          `json:"suite"`
	Guidance    *string         `json:"guidance,omitempty"`
	Status      TestStatus      `json:"status"`
	DurationMS  *int32          `json:"duration_ms,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ValidFrom   time.Time       `json:"valid_from"`
	ValidTo     time.Time       `json:"valid_to"`
	TxAt        time.Time       `json:"tx_at"`
}

// Signal is a low-level observation tied to a run and optionally a test.
// Append-only; not bi-temporal.
type Signal struct {
	SignalID  string         `json:"signal_id"`
	RunID     string         `json:"run_id"`
	TestID    *string        `json:"test_id,omitempty"`
	TestName  *string        `json:"test_name,omitempty"`
	Kind      SignalKind     `json:"kind"`
	LatencyMS *int32         `json:"latency_ms,omitempty"`
	Value     *float64       `json:"value,omitempty"`
	Meta      map[string]any `json:"meta"`
	At        time.Time      `json:"at"`
	TxAt      time.Time      `json:"tx_at"`
}

// Artifact is a stored reference to test evidence. Append-only.
type Artifact struct {
	ArtifactID  string       `json:"artifact_id"`
	RunID       string       `json:"run_id"`
	TestID      *string      `json:"test_id,omitempty"`
	TestName    *string      `json:"test_name,omitempty"`
	Kind        ArtifactKind `json:"kind"`
	ContentHash string       `json:"content_hash"`
	Path        string       `json:"path"`
	SizeBytes   *int64       `json:"size_bytes,omitempty"`
	MimeType    *string      `json:"mime_type,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Resonance is a detected recurring instability pattern. Derived; may be
// recomputed by the pattern scanner.
type Resonance struct {
	ResonanceID   string    `json:"resonance_id"`
	PatternID     string    `json:"pattern_id"`
	Description   string    `json:"description"`
	Score         float64   `json:"score"`
	Occurrences   int32     `json:"occurrences"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	AffectedTests []string  `json:"affected_tests"`
	RootCause     *string   `json:"root_cause,omitempty"`
}

// Baseline is the rolling duration profile for a test, used for drift
// detection. Recomputed by the background scanner.
type Baseline struct {
	TestName         string    `json:"test_name"`
	Suite            string    `json:"suite"`
	MeanDurationMS   float64   `json:"mean_duration_ms"`
	StddevDurationMS float64   `json:"stddev_duration_ms"`
	SampleSize       int32     `json:"sample_size"`
	LastUpdated      time.Time `json:"last_updated"`
}
