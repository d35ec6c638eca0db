// Package facts implements the bi-temporal fact manager: upsert-with-close-
// previous under per-key serialization, timeshift reads, and the atomic batch
// ingest path.
//
// Concurrency contract: within one (run_id, test_name) key, upserts are
// serialized by the sharded key-lock table in this process and by the row
// lock (SELECT ... FOR UPDATE) in Postgres; across processes the partial
// unique index on open facts is the backstop. No interleaving produces two
// simultaneously-open facts for the same key.
package facts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/liminalqa/liminal/internal/ident"
	"github.com/liminalqa/liminal/internal/model"
	"github.com/liminalqa/liminal/internal/storage"
	"github.com/liminalqa/liminal/internal/temporal"
)

// Manager owns the transaction clock and the key-lock table.
type Manager struct {
	db     *storage.DB
	clock  *temporal.TxClock
	locks  *keyLocks
	logger *slog.Logger
}

// NewManager creates a fact manager. shardCount sizes the key-lock table;
// zero selects the default.
func NewManager(db *storage.DB, logger *slog.Logger, shardCount int) *Manager {
	return &Manager{
		db:     db,
		clock:  temporal.NewTxClock(),
		locks:  newKeyLocks(shardCount),
		logger: logger,
	}
}

// IngestRun upserts a run. Returns the run ID and whether the run was
// already closed before this call (late re-ingest).
func (m *Manager) IngestRun(ctx context.Context, dto model.RunDTO) (string, bool, error) {
	run, err := m.runFromDTO(dto)
	if err != nil {
		return "", false, err
	}
	wasClosed, err := m.db.UpsertRun(ctx, run)
	if err != nil {
		return "", false, err
	}
	return run.RunID, wasClosed, nil
}

// IngestTests upserts one fact version per test against an existing run, all
// in a single transaction. Returns the fact IDs in input order and whether
// the run was already closed (late data).
func (m *Manager) IngestTests(ctx context.Context, req model.TestsRequest) ([]string, bool, error) {
	runID, err := ident.Parse(req.RunID)
	if err != nil {
		return nil, false, err
	}
	run, err := m.db.GetRun(ctx, runID)
	if err != nil {
		return nil, false, err
	}

	validFrom := req.ValidFrom.UTC()
	if validFrom.IsZero() {
		validFrom = run.StartedAt
	}

	unlock := m.locks.lockMany(factKeys(runID, req.Tests))
	defer unlock()

	var factIDs []string
	err = m.withConflictRetry(ctx, func() error {
		factIDs = factIDs[:0]
		return m.db.InTx(ctx, func(q storage.Querier) error {
			for _, t := range req.Tests {
				id, err := storage.UpsertTestFactTx(ctx, q, m.newFact(runID, t, validFrom))
				if err != nil {
					return err
				}
				factIDs = append(factIDs, id)
			}
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return factIDs, run.State() == model.RunClosed, nil
}

// IngestSignals appends signals to an existing run. Signals referencing a
// test by name resolve against the currently-open facts; unresolved names
// are stored with a null test link and counted, not rejected.
func (m *Manager) IngestSignals(ctx context.Context, req model.SignalsRequest) ([]string, int, bool, error) {
	runID, err := ident.Parse(req.RunID)
	if err != nil {
		return nil, 0, false, err
	}
	run, err := m.db.GetRun(ctx, runID)
	if err != nil {
		return nil, 0, false, err
	}

	var (
		ids        []string
		unresolved int
	)
	err = m.db.InTx(ctx, func(q storage.Querier) error {
		signals, n, err := m.resolveSignals(ctx, q, runID, req.Signals)
		if err != nil {
			return err
		}
		unresolved = n
		ids = make([]string, len(signals))
		for i, s := range signals {
			ids[i] = s.SignalID
		}
		return storage.InsertSignalsTx(ctx, q, signals)
	})
	if err != nil {
		return nil, 0, false, err
	}
	return ids, unresolved, run.State() == model.RunClosed, nil
}

// IngestArtifacts appends artifacts to an existing run, resolving test links
// like IngestSignals.
func (m *Manager) IngestArtifacts(ctx context.Context, req model.ArtifactsRequest) ([]string, int, bool, error) {
	runID, err := ident.Parse(req.RunID)
	if err != nil {
		return nil, 0, false, err
	}
	run, err := m.db.GetRun(ctx, runID)
	if err != nil {
		return nil, 0, false, err
	}

	var (
		ids        []string
		unresolved int
	)
	err = m.db.InTx(ctx, func(q storage.Querier) error {
		artifacts, n, err := m.resolveArtifacts(ctx, q, runID, req.Artifacts)
		if err != nil {
			return err
		}
		unresolved = n
		ids = make([]string, len(artifacts))
		for i, a := range artifacts {
			ids[i] = a.ArtifactID
		}
		return storage.InsertArtifactsTx(ctx, q, artifacts)
	})
	if err != nil {
		return nil, 0, false, err
	}
	return ids, unresolved, run.State() == model.RunClosed, nil
}

// BatchResult summarizes an atomic batch ingest.
type BatchResult struct {
	RunID       string
	FactIDs     []string
	SignalIDs   []string
	ArtifactIDs []string
	WasClosed   bool
	Unresolved  int
}

// IngestBatch persists a run together with its tests, signals, and artifacts
// in one transaction: either every contained record commits or none does.
func (m *Manager) IngestBatch(ctx context.Context, req model.BatchRequest) (BatchResult, error) {
	run, err := m.runFromDTO(req.Run)
	if err != nil {
		return BatchResult{}, err
	}

	validFrom := run.StartedAt
	if req.ValidFrom != nil {
		validFrom = req.ValidFrom.UTC()
	}

	unlock := m.locks.lockMany(factKeys(run.RunID, req.Tests))
	defer unlock()

	var res BatchResult
	err = m.withConflictRetry(ctx, func() error {
		res = BatchResult{RunID: run.RunID}
		return m.db.InTx(ctx, func(q storage.Querier) error {
			wasClosed, err := storage.UpsertRunTx(ctx, q, run)
			if err != nil {
				return err
			}
			res.WasClosed = wasClosed

			for _, t := range req.Tests {
				id, err := storage.UpsertTestFactTx(ctx, q, m.newFact(run.RunID, t, validFrom))
				if err != nil {
					return err
				}
				res.FactIDs = append(res.FactIDs, id)
			}

			signals, unresolvedSignals, err := m.resolveSignals(ctx, q, run.RunID, req.Signals)
			if err != nil {
				return err
			}
			if err := storage.InsertSignalsTx(ctx, q, signals); err != nil {
				return err
			}
			for _, s := range signals {
				res.SignalIDs = append(res.SignalIDs, s.SignalID)
			}

			artifacts, unresolvedArtifacts, err := m.resolveArtifacts(ctx, q, run.RunID, req.Artifacts)
			if err != nil {
				return err
			}
			if err := storage.InsertArtifactsTx(ctx, q, artifacts); err != nil {
				return err
			}
			for _, a := range artifacts {
				res.ArtifactIDs = append(res.ArtifactIDs, a.ArtifactID)
			}

			res.Unresolved = unresolvedSignals + unresolvedArtifacts
			return nil
		})
	})
	if err != nil {
		return BatchResult{}, err
	}
	return res, nil
}

// CurrentTestFacts returns the open facts of a run, sorted by test name.
func (m *Manager) CurrentTestFacts(ctx context.Context, runID string) ([]model.TestFact, error) {
	id, err := ident.Parse(runID)
	if err != nil {
		return nil, err
	}
	return m.db.CurrentTestFacts(ctx, id)
}

// TimeshiftTestFacts returns the fact versions valid at validAt as known by
// txAt. A nil txAt means "as of now".
func (m *Manager) TimeshiftTestFacts(ctx context.Context, runID string, validAt time.Time, txAt *time.Time) ([]model.TestFact, error) {
	id, err := ident.Parse(runID)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC()
	if txAt != nil {
		cutoff = txAt.UTC()
	}
	return m.db.TimeshiftTestFacts(ctx, id, validAt.UTC(), cutoff)
}

// FindTestByName resolves a test name to the fact_id of the currently-open
// fact in the run, or storage.ErrNotFound.
func (m *Manager) FindTestByName(ctx context.Context, runID, testName string) (string, error) {
	id, err := ident.Parse(runID)
	if err != nil {
		return "", err
	}
	return m.db.FindOpenFactByName(ctx, id, testName)
}

// runFromDTO builds a model.Run, allocating an identifier when the producer
// omitted one and normalizing timestamps to UTC.
func (m *Manager) runFromDTO(dto model.RunDTO) (model.Run, error) {
	runID, err := ident.OrNew(dto.RunID)
	if err != nil {
		return model.Run{}, err
	}
	buildID := dto.BuildID
	if buildID != nil {
		id, err := ident.Parse(*buildID)
		if err != nil {
			return model.Run{}, err
		}
		buildID = &id
	}
	env := dto.Env
	if env == nil {
		env = map[string]string{}
	}
	run := model.Run{
		RunID:         runID,
		BuildID:       buildID,
		PlanName:      dto.PlanName,
		Env:           env,
		StartedAt:     dto.StartedAt.UTC(),
		RunnerVersion: dto.RunnerVersion,
		TxAt:          m.clock.Now(),
	}
	if dto.EndedAt != nil {
		ended := dto.EndedAt.UTC()
		run.EndedAt = &ended
	}
	return run, nil
}

// newFact builds the next fact version for one test DTO, with a fresh ID and
// the next tx_at.
func (m *Manager) newFact(runID string, t model.TestDTO, validFrom time.Time) model.TestFact {
	fact := model.TestFact{
		FactID:     ident.New(),
		RunID:      runID,
		TestName:   t.Name,
		Suite:      t.Suite,
		Guidance:   t.Guidance,
		Status:     t.Status,
		DurationMS: t.DurationMS,
		Error:      t.Error,
		ValidFrom:  validFrom,
		ValidTo:    temporal.Infinity,
		TxAt:       m.clock.Now(),
	}
	if t.StartedAt != nil {
		ts := t.StartedAt.UTC()
		fact.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := t.CompletedAt.UTC()
		fact.CompletedAt = &ts
	}
	return fact
}

// resolveSignals translates signal DTOs into entities, resolving test links.
// Supplied test_ids are trusted after lexical validation; test_names resolve
// against the run's open facts. Unresolved names produce a null link and a
// warning.
func (m *Manager) resolveSignals(ctx context.Context, q storage.Querier, runID string, dtos []model.SignalDTO) ([]model.Signal, int, error) {
	signals := make([]model.Signal, 0, len(dtos))
	unresolved := 0
	for _, dto := range dtos {
		testID, testName, miss, err := m.resolveTestLink(ctx, q, runID, dto.TestID, dto.TestName)
		if err != nil {
			return nil, 0, err
		}
		if miss {
			unresolved++
		}
		signals = append(signals, model.Signal{
			SignalID:  ident.New(),
			RunID:     runID,
			TestID:    testID,
			TestName:  testName,
			Kind:      dto.Kind,
			LatencyMS: dto.LatencyMS,
			Value:     dto.Value,
			Meta:      dto.Meta,
			At:        dto.At.UTC(),
			TxAt:      m.clock.Now(),
		})
	}
	return signals, unresolved, nil
}

func (m *Manager) resolveArtifacts(ctx context.Context, q storage.Querier, runID string, dtos []model.ArtifactDTO) ([]model.Artifact, int, error) {
	artifacts := make([]model.Artifact, 0, len(dtos))
	unresolved := 0
	for _, dto := range dtos {
		testID, testName, miss, err := m.resolveTestLink(ctx, q, runID, dto.TestID, dto.TestName)
		if err != nil {
			return nil, 0, err
		}
		if miss {
			unresolved++
		}
		artifacts = append(artifacts, model.Artifact{
			ArtifactID:  ident.New(),
			RunID:       runID,
			TestID:      testID,
			TestName:    testName,
			Kind:        dto.Kind,
			ContentHash: dto.ContentHash,
			Path:        dto.Path,
			SizeBytes:   dto.SizeBytes,
			MimeType:    dto.MimeType,
			CreatedAt:   m.clock.Now(),
		})
	}
	return artifacts, unresolved, nil
}

func (m *Manager) resolveTestLink(ctx context.Context, q storage.Querier, runID string, testID, testName *string) (*string, *string, bool, error) {
	if testID != nil {
		id, err := ident.Parse(*testID)
		if err != nil {
			return nil, nil, false, err
		}
		return &id, testName, false, nil
	}
	if testName == nil {
		return nil, nil, false, nil
	}

	factID, err := storage.FindOpenFactByNameTx(ctx, q, runID, *testName)
	if errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("test link unresolved, storing with null test_id",
			"run_id", runID, "test_name", *testName)
		return nil, testName, true, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return &factID, testName, false, nil
}

// withConflictRetry runs fn and retries it exactly once when the open-fact
// unique index rejects a concurrent insert. Further conflict is surfaced.
// Serialization failures and deadlocks inside fn get their own bounded
// backoff via storage.WithRetry.
func (m *Manager) withConflictRetry(ctx context.Context, fn func() error) error {
	attempt := func() error {
		return storage.WithRetry(ctx, 1, 50*time.Millisecond, fn)
	}

	err := attempt()
	if err == nil || !errors.Is(err, storage.ErrConflict) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("conflict retry aborted: %w", ctx.Err())
	}
	m.logger.Debug("open-fact conflict, retrying once")
	return attempt()
}

// factKeys builds the lock keys for a set of tests within a run, sorted for
// deterministic acquisition order.
func factKeys(runID string, tests []model.TestDTO) []string {
	keys := make([]string, len(tests))
	for i, t := range tests {
		keys[i] = runID + "/" + t.Name
	}
	sort.Strings(keys)
	return keys
}
