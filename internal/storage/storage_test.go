package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liminalqa/liminal/internal/ident"
	"github.com/liminalqa/liminal/internal/model"
	"github.com/liminalqa/liminal/internal/storage"
	"github.com/liminalqa/liminal/internal/temporal"
	"github.com/liminalqa/liminal/internal/testutil"
)

var (
	testDB  *storage.DB
	txClock = temporal.NewTxClock()
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func ptr[T any](v T) *T { return &v }

// mkRun inserts a fresh open run and returns its ID.
func mkRun(t *testing.T) string {
	t.Helper()
	runID := ident.New()
	_, err := testDB.UpsertRun(context.Background(), model.Run{
		RunID:     runID,
		PlanName:  "nightly",
		Env:       map[string]string{"os": "linux"},
		StartedAt: time.Now().UTC().Add(-time.Hour),
		TxAt:      txClock.Now(),
	})
	require.NoError(t, err)
	return runID
}

// upsertFact runs one bi-temporal upsert in its own transaction.
func upsertFact(t *testing.T, runID, testName string, status model.TestStatus, validFrom time.Time, mutate ...func(*model.TestFact)) (string, error) {
	t.Helper()
	fact := model.TestFact{
		FactID:    ident.New(),
		RunID:     runID,
		TestName:  testName,
		Suite:     "suite",
		Status:    status,
		ValidFrom: validFrom,
		ValidTo:   temporal.Infinity,
		TxAt:      txClock.Now(),
	}
	for _, fn := range mutate {
		fn(&fact)
	}

	var factID string
	err := testDB.InTx(context.Background(), func(q storage.Querier) error {
		var err error
		factID, err = storage.UpsertTestFactTx(context.Background(), q, fact)
		return err
	})
	return factID, err
}

func TestUpsertChain(t *testing.T) {
	ctx := context.Background()
	runID := mkRun(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Minute)

	_, err := upsertFact(t, runID, "test_login", model.StatusFail, t0)
	require.NoError(t, err)
	_, err = upsertFact(t, runID, "test_login", model.StatusPass, t1)
	require.NoError(t, err)

	// Current view: one open fact, the pass at t1.
	current, err := testDB.CurrentTestFacts(ctx, runID)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, model.StatusPass, current[0].Status)
	assert.True(t, current[0].ValidFrom.Equal(t1))
	assert.True(t, temporal.IsInfinity(current[0].ValidTo))

	// Just after t0: the superseded fail version.
	atT0, err := testDB.TimeshiftTestFacts(ctx, runID, t0.Add(time.Second), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, atT0, 1)
	assert.Equal(t, model.StatusFail, atT0[0].Status)
	assert.True(t, atT0[0].ValidTo.Equal(t1), "superseded version closes at successor's valid_from")

	// Just after t1: the pass version.
	atT1, err := testDB.TimeshiftTestFacts(ctx, runID, t1.Add(time.Second), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, atT1, 1)
	assert.Equal(t, model.StatusPass, atT1[0].Status)
}

func TestUpsertIdempotent(t *testing.T) {
	runID := mkRun(t)
	validFrom := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	errJSON := json.RawMessage(`{"message":"assertion failed"}`)
	mutate := func(f *model.TestFact) {
		f.DurationMS = ptr(int32(1200))
		f.Error = errJSON
		f.CompletedAt = ptr(validFrom.Add(time.Second))
	}

	first, err := upsertFact(t, runID, "test_checkout", model.StatusFail, validFrom, mutate)
	require.NoError(t, err)

	second, err := upsertFact(t, runID, "test_checkout", model.StatusFail, validFrom, mutate)
	require.NoError(t, err)
	assert.Equal(t, first, second, "identical replay must return the existing fact_id")

	// Exactly one version exists: the replay inserted nothing.
	var versions int
	err = testDB.Pool().QueryRow(context.Background(),
		`SELECT count(*) FROM test_fact WHERE run_id = $1 AND test_name = 'test_checkout'`, runID,
	).Scan(&versions)
	require.NoError(t, err)
	assert.Equal(t, 1, versions)
}

func TestUpsertRejectsEarlierValidFrom(t *testing.T) {
	runID := mkRun(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := upsertFact(t, runID, "test_x", model.StatusPass, t0)
	require.NoError(t, err)

	_, err = upsertFact(t, runID, "test_x", model.StatusFail, t0.Add(-time.Minute))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestTemporalUniqueness(t *testing.T) {
	ctx := context.Background()
	runID := mkRun(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	statuses := []model.TestStatus{
		model.StatusFail, model.StatusFlake, model.StatusPass, model.StatusPass, model.StatusTimeout,
	}
	for i, s := range statuses {
		_, err := upsertFact(t, runID, "test_churn", s, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	// Exactly one open version.
	var open int
	err := testDB.Pool().QueryRow(ctx,
		`SELECT count(*) FROM test_fact WHERE run_id = $1 AND test_name = 'test_churn' AND valid_to = $2`,
		runID, temporal.Infinity,
	).Scan(&open)
	require.NoError(t, err)
	assert.Equal(t, 1, open)

	// Any probe instant sees at most one version.
	probes := []time.Time{
		base.Add(-time.Hour),
		base,
		base.Add(90 * time.Second),
		base.Add(3 * time.Minute),
		base.Add(24 * time.Hour),
	}
	for _, probe := range probes {
		facts, err := testDB.TimeshiftTestFacts(ctx, runID, probe, time.Now().UTC())
		require.NoError(t, err)
		assert.LessOrEqual(t, len(facts), 1, "probe %s", probe)
	}
}

func TestTimeshiftKnowledgeCutoff(t *testing.T) {
	ctx := context.Background()
	runID := mkRun(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	_, err := upsertFact(t, runID, "test_k", model.StatusFail, t0)
	require.NoError(t, err)

	cutoff := txClock.Now()

	_, err = upsertFact(t, runID, "test_k", model.StatusPass, t1)
	require.NoError(t, err)

	// As of the cutoff, the pass version was not yet known.
	facts, err := testDB.TimeshiftTestFacts(ctx, runID, t1.Add(time.Second), cutoff)
	require.NoError(t, err)
	assert.Empty(t, facts, "the successor's interval is unknown before its tx_at")

	// With full knowledge it is visible.
	facts, err = testDB.TimeshiftTestFacts(ctx, runID, t1.Add(time.Second), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, model.StatusPass, facts[0].Status)
}

func TestConcurrentUpsertsSameKey(t *testing.T) {
	runID := mkRun(t)
	validFrom := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = upsertFact(t, runID, "test_race", model.StatusPass, validFrom,
				func(f *model.TestFact) { f.DurationMS = ptr(int32(n)) })
		}(i)
	}
	wg.Wait()

	// Every writer either succeeded or lost the open slot; never anything else.
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, storage.ErrConflict)
		}
	}
	assert.GreaterOrEqual(t, succeeded, 1)

	// Exactly one open fact regardless of interleaving.
	var open int
	err := testDB.Pool().QueryRow(context.Background(),
		`SELECT count(*) FROM test_fact WHERE run_id = $1 AND test_name = 'test_race' AND valid_to = $2`,
		runID, temporal.Infinity,
	).Scan(&open)
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}

func TestFindOpenFactByName(t *testing.T) {
	ctx := context.Background()
	runID := mkRun(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	factID, err := upsertFact(t, runID, "test_find", model.StatusPass, t0)
	require.NoError(t, err)

	got, err := testDB.FindOpenFactByName(ctx, runID, "test_find")
	require.NoError(t, err)
	assert.Equal(t, factID, got)

	_, err = testDB.FindOpenFactByName(ctx, runID, "test_missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// After supersession the lookup resolves to the new open version.
	newID, err := upsertFact(t, runID, "test_find", model.StatusFail, t0.Add(time.Minute))
	require.NoError(t, err)
	got, err = testDB.FindOpenFactByName(ctx, runID, "test_find")
	require.NoError(t, err)
	assert.Equal(t, newID, got)
}

func TestRunMonotonicClose(t *testing.T) {
	ctx := context.Background()
	runID := ident.New()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	endedLate := started.Add(2 * time.Hour)
	endedEarly := started.Add(1 * time.Hour)

	run := model.Run{
		RunID:     runID,
		PlanName:  "nightly",
		Env:       map[string]string{},
		StartedAt: started,
		TxAt:      txClock.Now(),
	}

	wasClosed, err := testDB.UpsertRun(ctx, run)
	require.NoError(t, err)
	assert.False(t, wasClosed)

	// Close at endedLate.
	run.EndedAt = &endedLate
	run.TxAt = txClock.Now()
	wasClosed, err = testDB.UpsertRun(ctx, run)
	require.NoError(t, err)
	assert.False(t, wasClosed, "first close: run was still open")

	// Re-ingest with an earlier ended_at: ignored.
	run.EndedAt = &endedEarly
	run.TxAt = txClock.Now()
	wasClosed, err = testDB.UpsertRun(ctx, run)
	require.NoError(t, err)
	assert.True(t, wasClosed, "second close: run was already closed")

	got, err := testDB.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(endedLate), "ended_at must not move backwards")
	assert.Equal(t, model.RunClosed, got.State())
}

func TestGetRunNotFound(t *testing.T) {
	_, err := testDB.GetRun(context.Background(), ident.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSignalsCopyPathRoundTrip(t *testing.T) {
	ctx := context.Background()
	runID := mkRun(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Enough rows to cross the COPY threshold.
	signals := make([]model.Signal, 25)
	for i := range signals {
		signals[i] = model.Signal{
			SignalID: ident.New(),
			RunID:    runID,
			Kind:     model.SignalAPI,
			Value:    ptr(float64(200 + i)),
			Meta:     map[string]any{"endpoint": "/api/v1/items"},
			At:       base.Add(time.Duration(i) * time.Second),
			TxAt:     txClock.Now(),
		}
	}
	require.NoError(t, testDB.InsertSignals(ctx, signals))

	got, err := testDB.SignalsByRun(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, got, 25)
	assert.Equal(t, model.SignalAPI, got[0].Kind)
	assert.Equal(t, "/api/v1/items", got[0].Meta["endpoint"])
	assert.True(t, got[0].At.Equal(base))
}

func TestArtifactsRoundTrip(t *testing.T) {
	ctx := context.Background()
	runID := mkRun(t)

	hash := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	artifacts := []model.Artifact{
		{
			ArtifactID:  ident.New(),
			RunID:       runID,
			Kind:        model.ArtifactScreenshot,
			ContentHash: hash,
			Path:        "shots/login.png",
			SizeBytes:   ptr(int64(48213)),
			MimeType:    ptr("image/png"),
			CreatedAt:   txClock.Now(),
		},
	}
	require.NoError(t, testDB.InsertArtifacts(ctx, artifacts))

	got, err := testDB.ArtifactsByRun(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, hash, got[0].ContentHash)
	assert.Equal(t, model.ArtifactScreenshot, got[0].Kind)
}

func TestStatusCountsLookbackWindow(t *testing.T) {
	ctx := context.Background()
	testName := "flaky_test_" + ident.New()

	// 12 runs; the two oldest fail, then 7 pass + 3 fail in the latest 10.
	statuses := []model.TestStatus{
		model.StatusFail, model.StatusFail, // outside the lookback window
		model.StatusPass, model.StatusPass, model.StatusPass, model.StatusFail,
		model.StatusPass, model.StatusFail, model.StatusPass, model.StatusPass,
		model.StatusFail, model.StatusPass,
	}
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, s := range statuses {
		runID := mkRun(t)
		_, err := upsertFact(t, runID, testName, s, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	counts, err := testDB.StatusCounts(ctx, testName, 10)
	require.NoError(t, err)
	assert.Equal(t, 7, counts[model.StatusPass])
	assert.Equal(t, 3, counts[model.StatusFail])
}

func TestRecentOutcomesOldestFirst(t *testing.T) {
	ctx := context.Background()
	testName := "ordered_test_" + ident.New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	sequence := []model.TestStatus{model.StatusPass, model.StatusFail, model.StatusPass}
	for i, s := range sequence {
		runID := mkRun(t)
		_, err := upsertFact(t, runID, testName, s, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	got, err := testDB.RecentOutcomes(ctx, testName, 10)
	require.NoError(t, err)
	assert.Equal(t, sequence, got)
}

func TestCausalityWalk(t *testing.T) {
	ctx := context.Background()
	runID := mkRun(t)
	completed := time.Date(2026, 3, 1, 10, 0, 23, 0, time.UTC)

	_, err := upsertFact(t, runID, "api_call", model.StatusTimeout, completed.Add(-time.Second),
		func(f *model.TestFact) { f.CompletedAt = &completed })
	require.NoError(t, err)
	// A passing test must not contribute causality rows.
	_, err = upsertFact(t, runID, "healthy_test", model.StatusPass, completed)
	require.NoError(t, err)

	signals := []model.Signal{
		{
			SignalID: ident.New(), RunID: runID, Kind: model.SignalAPI,
			Value: ptr(504.0), Meta: map[string]any{}, At: completed.Add(-2 * time.Second), TxAt: txClock.Now(),
		},
		{
			SignalID: ident.New(), RunID: runID, Kind: model.SignalNetwork,
			Value: ptr(4500.0), Meta: map[string]any{}, At: completed.Add(-150 * time.Millisecond), TxAt: txClock.Now(),
		},
		{
			// Outside the 5-minute window.
			SignalID: ident.New(), RunID: runID, Kind: model.SignalSystem,
			Meta: map[string]any{}, At: completed.Add(-time.Hour), TxAt: txClock.Now(),
		},
	}
	require.NoError(t, testDB.InsertSignals(ctx, signals))

	rows, err := testDB.CausalityWalk(ctx, runID, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Ordered by |delta| ascending: the 150ms network blip first.
	assert.Equal(t, model.SignalNetwork, rows[0].SignalKind)
	assert.InDelta(t, -0.15, rows[0].DeltaSeconds, 0.001)
	assert.Equal(t, model.SignalAPI, rows[1].SignalKind)
	assert.InDelta(t, -2.0, rows[1].DeltaSeconds, 0.001)
	assert.Equal(t, "api_call", rows[0].TestName)
}

func TestResonanceMapBuckets(t *testing.T) {
	ctx := context.Background()
	runID := mkRun(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Two facts in the first minute, one in the next.
	_, err := upsertFact(t, runID, "t1", model.StatusPass, base.Add(10*time.Second))
	require.NoError(t, err)
	_, err = upsertFact(t, runID, "t2", model.StatusFail, base.Add(40*time.Second))
	require.NoError(t, err)
	_, err = upsertFact(t, runID, "t3", model.StatusPass, base.Add(70*time.Second))
	require.NoError(t, err)

	buckets, err := testDB.ResonanceMap(ctx, runID, time.Minute)
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	assert.True(t, buckets[0].Bucket.Equal(base))
	assert.Equal(t, model.StatusFail, buckets[0].Status, "statuses sort within a bucket")
	assert.Equal(t, int64(1), buckets[0].Count)
	assert.True(t, buckets[1].Bucket.Equal(base))
	assert.Equal(t, model.StatusPass, buckets[1].Status)
	assert.True(t, buckets[2].Bucket.Equal(base.Add(time.Minute)))
}

func TestBaselines(t *testing.T) {
	ctx := context.Background()
	testName := "timed_test_" + ident.New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	durations := []int32{100, 120, 110, 130, 90}
	for i, d := range durations {
		runID := mkRun(t)
		_, err := upsertFact(t, runID, testName, model.StatusPass, base.Add(time.Duration(i)*time.Minute),
			func(f *model.TestFact) { f.DurationMS = ptr(d) })
		require.NoError(t, err)
	}

	written, err := testDB.RefreshBaselines(ctx, 50, time.Now().UTC())
	require.NoError(t, err)
	assert.Greater(t, written, int64(0))

	b, err := testDB.GetBaseline(ctx, testName, "suite")
	require.NoError(t, err)
	assert.InDelta(t, 110.0, b.MeanDurationMS, 1e-6)
	assert.Greater(t, b.StddevDurationMS, 0.0)
	assert.Equal(t, int32(5), b.SampleSize)

	_, err = testDB.GetBaseline(ctx, "no_such_test", "suite")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResonanceUpsertMerges(t *testing.T) {
	ctx := context.Background()
	patternID := "flake/merge_" + ident.New()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := model.Resonance{
		ResonanceID:   ident.New(),
		PatternID:     patternID,
		Description:   "flaky test detected",
		Score:         0.4,
		Occurrences:   1,
		FirstSeen:     now,
		LastSeen:      now,
		AffectedTests: []string{"test_a"},
	}
	require.NoError(t, testDB.UpsertResonance(ctx, first))

	second := first
	second.ResonanceID = ident.New()
	second.Score = 0.6
	second.LastSeen = now.Add(time.Hour)
	second.AffectedTests = []string{"test_a", "test_b"}
	require.NoError(t, testDB.UpsertResonance(ctx, second))

	list, err := testDB.ListResonances(ctx, 1000)
	require.NoError(t, err)

	var got *model.Resonance
	for i := range list {
		if list[i].PatternID == patternID {
			got = &list[i]
			break
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, int32(2), got.Occurrences)
	assert.Equal(t, 0.6, got.Score)
	assert.ElementsMatch(t, []string{"test_a", "test_b"}, got.AffectedTests)
	assert.True(t, got.LastSeen.Equal(now.Add(time.Hour)))
}

func TestSystemsAndBuilds(t *testing.T) {
	ctx := context.Background()

	sys := model.System{
		SystemID:  ident.New(),
		Name:      "checkout-service",
		Version:   ptr("2.4.1"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, testDB.CreateSystem(ctx, sys))
	// Idempotent re-registration.
	require.NoError(t, testDB.CreateSystem(ctx, sys))

	got, err := testDB.GetSystem(ctx, sys.SystemID)
	require.NoError(t, err)
	assert.Equal(t, "checkout-service", got.Name)

	build := model.Build{
		BuildID:   ident.New(),
		SystemID:  sys.SystemID,
		CommitSHA: "4e1f2d3",
		Branch:    "main",
		Version:   "2.4.1+341",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, testDB.CreateBuild(ctx, build))

	gotBuild, err := testDB.GetBuild(ctx, build.BuildID)
	require.NoError(t, err)
	assert.Equal(t, "main", gotBuild.Branch)

	// A build for an unregistered system is rejected.
	bad := build
	bad.BuildID = ident.New()
	bad.SystemID = ident.New()
	assert.ErrorIs(t, testDB.CreateBuild(ctx, bad), storage.ErrNotFound)

	systems, err := testDB.ListSystems(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, systems)
}
