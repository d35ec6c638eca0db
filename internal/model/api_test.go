package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestValidateRun(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	valid := RunDTO{PlanName: "nightly", StartedAt: started}
	require.NoError(t, ValidateRun(valid))

	tests := []struct {
		name string
		dto  RunDTO
	}{
		{"missing plan_name", RunDTO{StartedAt: started}},
		{"missing started_at", RunDTO{PlanName: "nightly"}},
		{"ended before started", RunDTO{PlanName: "nightly", StartedAt: started, EndedAt: ptr(started.Add(-time.Minute))}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateRun(tc.dto))
		})
	}
}

func TestValidateTest(t *testing.T) {
	valid := TestDTO{Name: "test_login", Suite: "auth", Status: StatusPass}
	require.NoError(t, ValidateTest(valid))

	tests := []struct {
		name string
		dto  TestDTO
	}{
		{"missing name", TestDTO{Suite: "auth", Status: StatusPass}},
		{"missing suite", TestDTO{Name: "t", Status: StatusPass}},
		{"unknown status", TestDTO{Name: "t", Suite: "s", Status: "exploded"}},
		{"negative duration", TestDTO{Name: "t", Suite: "s", Status: StatusPass, DurationMS: ptr(int32(-1))}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateTest(tc.dto))
		})
	}
}

func TestValidateSignal(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 23, 0, time.UTC)

	require.NoError(t, ValidateSignal(SignalDTO{Kind: SignalAPI, At: at}))

	assert.Error(t, ValidateSignal(SignalDTO{Kind: "carrier-pigeon", At: at}), "unknown kind")
	assert.Error(t, ValidateSignal(SignalDTO{Kind: SignalAPI}), "missing at")
	assert.Error(t, ValidateSignal(SignalDTO{Kind: SignalAPI, At: at, LatencyMS: ptr(int32(-5))}))
}

func TestValidateArtifact(t *testing.T) {
	hash := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

	valid := ArtifactDTO{Kind: ArtifactScreenshot, Path: "shots/login.png", ContentHash: hash}
	require.NoError(t, ValidateArtifact(valid))

	tests := []struct {
		name string
		dto  ArtifactDTO
	}{
		{"unknown kind", ArtifactDTO{Kind: "floppy", Path: "p", ContentHash: hash}},
		{"missing path", ArtifactDTO{Kind: ArtifactLog, ContentHash: hash}},
		{"short hash", ArtifactDTO{Kind: ArtifactLog, Path: "p", ContentHash: "abc123"}},
		{"uppercase hash", ArtifactDTO{Kind: ArtifactLog, Path: "p", ContentHash: "9F86D081884C7D659A2FEAA0C55AD015A3BF4F1B2B0B822CD15D6C15B0F00A08"}},
		{"non-hex hash", ArtifactDTO{Kind: ArtifactLog, Path: "p", ContentHash: "zz86d081884c7d659a2feaa0c55ad015"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateArtifact(tc.dto))
		})
	}
}

func TestValidateQuery(t *testing.T) {
	at := time.Now().UTC()

	valid := []QueryRequest{
		{Kind: QueryCurrentTests, RunID: "r"},
		{Kind: QueryTimeshift, RunID: "r", ValidAt: &at},
		{Kind: QueryCausality, RunID: "r"},
		{Kind: QueryCausality, RunID: "r", WindowSeconds: ptr(60)},
		{Kind: QueryResonance, RunID: "r", BucketSeconds: ptr(30)},
		{Kind: QueryStability, TestName: "flaky_test", LookbackRuns: ptr(5)},
	}
	for _, q := range valid {
		assert.NoError(t, ValidateQuery(q), "kind %s", q.Kind)
	}

	invalid := []QueryRequest{
		{Kind: "everything"},
		{Kind: QueryCurrentTests},
		{Kind: QueryTimeshift, RunID: "r"},
		{Kind: QueryCausality, RunID: "r", WindowSeconds: ptr(0)},
		{Kind: QueryResonance},
		{Kind: QueryStability, LookbackRuns: ptr(10)},
		{Kind: QueryStability, TestName: "t", LookbackRuns: ptr(-1)},
	}
	for _, q := range invalid {
		assert.Error(t, ValidateQuery(q), "kind %s", q.Kind)
	}
}

func TestRunState(t *testing.T) {
	now := time.Now().UTC()
	open := Run{RunID: "r", StartedAt: now}
	closed := Run{RunID: "r", StartedAt: now, EndedAt: &now}

	assert.Equal(t, RunOpen, open.State())
	assert.Equal(t, RunClosed, closed.State())
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusFail.Failed())
	assert.True(t, StatusTimeout.Failed())
	assert.False(t, StatusPass.Failed())
	assert.False(t, StatusFlake.Failed())
	assert.False(t, TestStatus("bogus").Valid())
}
