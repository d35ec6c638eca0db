package model

import (
	"time"
)

// CausalityRow is one signal temporally adjacent to a failed or timed-out
// test. DeltaSeconds is signed: negative when the signal preceded the
// failure instant.
type CausalityRow struct {
	TestName     string         `json:"test_name"`
	TestStatus   TestStatus     `json:"test_status"`
	FailedAt     time.Time      `json:"failed_at"`
	SignalID     string         `json:"signal_id"`
	SignalKind   SignalKind     `json:"signal_kind"`
	SignalAt     time.Time      `json:"signal_at"`
	SignalValue  *float64       `json:"signal_value,omitempty"`
	SignalMeta   map[string]any `json:"signal_meta"`
	DeltaSeconds float64        `json:"delta_seconds"`
}

// ResonanceBucket is one cell of the resonance map: the count of open facts
// whose valid_from falls into the bucket, per status.
type ResonanceBucket struct {
	Bucket time.Time  `json:"bucket"`
	Status TestStatus `json:"status"`
	Count  int64      `json:"count"`
}

// StabilityResult is the outcome-consistency score of a test across recent
// runs. Score is nil when the test has no recorded outcomes.
type StabilityResult struct {
	TestName     string   `json:"test_name"`
	Score        *float64 `json:"score"`
	SampleSize   int      `json:"sample_size"`
	LookbackRuns int      `json:"lookback_runs"`
}
