package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/liminalqa/liminal/internal/model"
)

// UpsertRun stores or updates a run in its own transaction. See UpsertRunTx.
func (db *DB) UpsertRun(ctx context.Context, run model.Run) (bool, error) {
	var wasClosed bool
	err := db.InTx(ctx, func(q Querier) error {
		var err error
		wasClosed, err = UpsertRunTx(ctx, q, run)
		return err
	})
	return wasClosed, err
}

// UpsertRunTx inserts a run, or updates an existing one under a row lock.
// Closing is monotonic and idempotent: ended_at only moves forward; a
// re-ingest with an earlier ended_at is ignored. Returns whether the run was
// already closed before this call, so callers can flag late data.
func UpsertRunTx(ctx context.Context, q Querier, run model.Run) (bool, error) {
	var prevEnded *time.Time
	err := q.QueryRow(ctx,
		`SELECT ended_at FROM run WHERE run_id = $1 FOR UPDATE`, run.RunID,
	).Scan(&prevEnded)

	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := q.Exec(ctx,
			`INSERT INTO run (run_id, build_id, plan_name, env, started_at, ended_at, runner_version, tx_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.RunID, run.BuildID, run.PlanName, run.Env,
			run.StartedAt, run.EndedAt, run.RunnerVersion, run.TxAt,
		); err != nil {
			return false, fmt.Errorf("storage: insert run: %w", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: lock run: %w", err)
	}

	wasClosed := prevEnded != nil
	ended := prevEnded
	if run.EndedAt != nil && (ended == nil || run.EndedAt.After(*ended)) {
		ended = run.EndedAt
	}

	if _, err := q.Exec(ctx,
		`UPDATE run
		 SET build_id = COALESCE($2, build_id),
		     plan_name = $3,
		     env = $4,
		     started_at = $5,
		     ended_at = $6,
		     runner_version = COALESCE($7, runner_version),
		     tx_at = $8
		 WHERE run_id = $1`,
		run.RunID, run.BuildID, run.PlanName, run.Env,
		run.StartedAt, ended, run.RunnerVersion, run.TxAt,
	); err != nil {
		return false, fmt.Errorf("storage: update run: %w", err)
	}
	return wasClosed, nil
}

// GetRun retrieves a run by ID. Returns ErrNotFound when absent.
func (db *DB) GetRun(ctx context.Context, runID string) (model.Run, error) {
	var run model.Run
	err := db.pool.QueryRow(ctx,
		`SELECT run_id, build_id, plan_name, env, started_at, ended_at, runner_version, tx_at
		 FROM run WHERE run_id = $1`, runID,
	).Scan(
		&run.RunID, &run.BuildID, &run.PlanName, &run.Env,
		&run.StartedAt, &run.EndedAt, &run.RunnerVersion, &run.TxAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRecentRuns returns the most recently started runs, newest first.
func (db *DB) ListRecentRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT run_id, build_id, plan_name, env, started_at, ended_at, runner_version, tx_at
		 FROM run ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(
			&r.RunID, &r.BuildID, &r.PlanName, &r.Env,
			&r.StartedAt, &r.EndedAt, &r.RunnerVersion, &r.TxAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
