package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/liminalqa/liminal/internal/model"
	"github.com/liminalqa/liminal/internal/temporal"
)

const factColumns = `fact_id, run_id, test_name, suite, guidance, status, duration_ms, error,
	started_at, completed_at, valid_from, valid_to, tx_at`

// UpsertTestFactTx performs the bi-temporal upsert for one (run_id, test_name)
// key. It must run inside a transaction: the currently-open row (if any) is
// locked FOR UPDATE, checked for idempotence, closed at valid_from, and the
// new version inserted open with the caller-assigned tx_at.
//
// Idempotence: when the open row already carries identical
// (status, duration_ms, error, completed_at, valid_from), its fact_id is
// returned and nothing is written.
//
// Errors: ErrInvalidInput when valid_from precedes the open row's valid_from;
// ErrConflict when the partial unique index rejects the insert (a concurrent
// writer won the open slot).
func UpsertTestFactTx(ctx context.Context, q Querier, fact model.TestFact) (string, error) {
	var (
		openID        string
		openStatus    model.TestStatus
		openDuration  *int32
		openError     []byte
		openCompleted *time.Time
		openValidFrom time.Time
	)
	err := q.QueryRow(ctx,
		`SELECT fact_id, status, duration_ms, error, completed_at, valid_from
		 FROM test_fact
		 WHERE run_id = $1 AND test_name = $2 AND valid_to = $3
		 FOR UPDATE`,
		fact.RunID, fact.TestName, temporal.Infinity,
	).Scan(&openID, &openStatus, &openDuration, &openError, &openCompleted, &openValidFrom)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First version for this key.
	case err != nil:
		return "", fmt.Errorf("storage: lock open fact: %w", err)
	default:
		if sameFactVersion(fact, openStatus, openDuration, openError, openCompleted, openValidFrom) {
			return openID, nil
		}
		if fact.ValidFrom.Before(openValidFrom) {
			return "", fmt.Errorf("%w: valid_from %s precedes open fact valid_from %s",
				ErrInvalidInput, fact.ValidFrom.Format(time.RFC3339Nano), openValidFrom.Format(time.RFC3339Nano))
		}
		if _, err := q.Exec(ctx,
			`UPDATE test_fact SET valid_to = $2 WHERE fact_id = $1`,
			openID, fact.ValidFrom,
		); err != nil {
			return "", fmt.Errorf("storage: close fact: %w", err)
		}
	}

	// nil error must persist as SQL NULL, not jsonb 'null', so replays
	// compare equal.
	var errArg any
	if len(fact.Error) > 0 {
		errArg = fact.Error
	}

	if _, err := q.Exec(ctx,
		`INSERT INTO test_fact (`+factColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		fact.FactID, fact.RunID, fact.TestName, fact.Suite, fact.Guidance,
		string(fact.Status), fact.DurationMS, errArg,
		fact.StartedAt, fact.CompletedAt, fact.ValidFrom, temporal.Infinity, fact.TxAt,
	); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: open fact for (%s, %s)", ErrConflict, fact.RunID, fact.TestName)
		}
		return "", fmt.Errorf("storage: insert fact: %w", err)
	}
	return fact.FactID, nil
}

// sameFactVersion reports whether the producer-supplied fields match the open
// row exactly, making the upsert a no-op replay.
func sameFactVersion(fact model.TestFact, status model.TestStatus, duration *int32, errJSON []byte, completed *time.Time, validFrom time.Time) bool {
	if fact.Status != status || !fact.ValidFrom.Equal(validFrom) {
		return false
	}
	if (fact.DurationMS == nil) != (duration == nil) {
		return false
	}
	if fact.DurationMS != nil && *fact.DurationMS != *duration {
		return false
	}
	if (fact.CompletedAt == nil) != (completed == nil) {
		return false
	}
	if fact.CompletedAt != nil && !fact.CompletedAt.Equal(*completed) {
		return false
	}
	return jsonEqual(fact.Error, errJSON)
}

// jsonEqual compares two raw JSON documents semantically: jsonb normalizes
// whitespace and key order on storage, so a byte compare would defeat the
// idempotence check.
func jsonEqual(a, b []byte) bool {
	aNull := len(a) == 0 || string(a) == "null"
	bNull := len(b) == 0 || string(b) == "null"
	if aNull || bNull {
		return aNull == bNull
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(av, bv)
}

// FindOpenFactByName resolves a test name to the fact_id of the at-most-one
// currently-open fact in the run. Returns ErrNotFound when no open fact
// exists.
func (db *DB) FindOpenFactByName(ctx context.Context, runID, testName string) (string, error) {
	return findOpenFactByName(ctx, db.pool, runID, testName)
}

// FindOpenFactByNameTx is FindOpenFactByName inside an existing transaction.
func FindOpenFactByNameTx(ctx context.Context, q Querier, runID, testName string) (string, error) {
	return findOpenFactByName(ctx, q, runID, testName)
}

func findOpenFactByName(ctx context.Context, q Querier, runID, testName string) (string, error) {
	var factID string
	err := q.QueryRow(ctx,
		`SELECT fact_id FROM test_fact
		 WHERE run_id = $1 AND test_name = $2 AND valid_to = $3`,
		runID, testName, temporal.Infinity,
	).Scan(&factID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: open fact for test %q in run %s", ErrNotFound, testName, runID)
		}
		return "", fmt.Errorf("storage: find open fact: %w", err)
	}
	return factID, nil
}

// CurrentTestFacts returns the open facts for a run, sorted by test name.
func (db *DB) CurrentTestFacts(ctx context.Context, runID string) ([]model.TestFact, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+factColumns+`
		 FROM test_fact
		 WHERE run_id = $1 AND valid_to = $2
		 ORDER BY test_name`,
		runID, temporal.Infinity,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: current facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// TimeshiftTestFacts returns the fact versions whose valid interval contains
// validAt and that were known by txAt: what we believed was true at wall-time
// validAt, as of knowledge cut-off txAt.
func (db *DB) TimeshiftTestFacts(ctx context.Context, runID string, validAt, txAt time.Time) ([]model.TestFact, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+factColumns+`
		 FROM test_fact
		 WHERE run_id = $1
		   AND valid_from <= $2 AND valid_to > $2
		   AND tx_at <= $3
		 ORDER BY test_name`,
		runID, validAt, txAt,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: timeshift facts: %w", err)
	}
	defer rows.Close()

	// Valid intervals are disjoint per (run, test), so at most one version
	// per test can contain validAt.
	return scanFacts(rows)
}

// StatusCounts aggregates open-fact status counts for a test across its most
// recent lookback distinct runs (ordered by tx_at descending). Feeds the
// stability score.
func (db *DB) StatusCounts(ctx context.Context, testName string, lookbackRuns int) (map[model.TestStatus]int, error) {
	rows, err := db.pool.Query(ctx,
		`WITH recent_runs AS (
		     SELECT run_id
		     FROM test_fact
		     WHERE test_name = $1 AND valid_to = $2
		     GROUP BY run_id
		     ORDER BY max(tx_at) DESC
		     LIMIT $3
		 )
		 SELECT f.status, count(*)
		 FROM test_fact f
		 JOIN recent_runs r ON r.run_id = f.run_id
		 WHERE f.test_name = $1 AND f.valid_to = $2
		 GROUP BY f.status`,
		testName, temporal.Infinity, lookbackRuns,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.TestStatus]int)
	for rows.Next() {
		var status model.TestStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("storage: scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RecentOutcomes returns the open-fact statuses of a test across its most
// recent runs, oldest first, for the flake scanner.
func (db *DB) RecentOutcomes(ctx context.Context, testName string, limit int) ([]model.TestStatus, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT status FROM test_fact
		 WHERE test_name = $1 AND valid_to = $2
		 ORDER BY tx_at DESC
		 LIMIT $3`,
		testName, temporal.Infinity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent outcomes: %w", err)
	}
	defer rows.Close()

	var newestFirst []model.TestStatus
	for rows.Next() {
		var s model.TestStatus
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("storage: scan outcome: %w", err)
		}
		newestFirst = append(newestFirst, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

// ActiveTestNames returns the distinct names of tests with an open fact
// recorded since the given instant. Drives the background pattern scan.
func (db *DB) ActiveTestNames(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT test_name FROM test_fact
		 WHERE valid_to = $1 AND tx_at > $2
		 ORDER BY test_name
		 LIMIT $3`,
		temporal.Infinity, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: active test names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("storage: scan test name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// CountOpenFacts returns the number of open facts across all runs, for the
// active_tests gauge.
func (db *DB) CountOpenFacts(ctx context.Context) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM test_fact WHERE valid_to = $1`, temporal.Infinity,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count open facts: %w", err)
	}
	return n, nil
}

func scanFacts(rows pgx.Rows) ([]model.TestFact, error) {
	var facts []model.TestFact
	for rows.Next() {
		var f model.TestFact
		if err := rows.Scan(
			&f.FactID, &f.RunID, &f.TestName, &f.Suite, &f.Guidance,
			&f.Status, &f.DurationMS, &f.Error,
			&f.StartedAt, &f.CompletedAt, &f.ValidFrom, &f.ValidTo, &f.TxAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
