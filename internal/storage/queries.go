package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/liminalqa/liminal/internal/model"
	"github.com/liminalqa/liminal/internal/temporal"
)

// CausalityWalk returns, for every open fact in the run with a failing
// status, the signals observed within the window around the failure instant
// (completed_at, falling back to valid_from). Rows are ordered by test name
// then absolute delta, nearest signal first.
func (db *DB) CausalityWalk(ctx context.Context, runID string, window time.Duration) ([]model.CausalityRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT f.test_name,
		        f.status,
		        COALESCE(f.completed_at, f.valid_from) AS failed_at,
		        s.signal_id,
		        s.kind,
		        s.at,
		        s.value,
		        s.meta,
		        EXTRACT(EPOCH FROM (s.at - COALESCE(f.completed_at, f.valid_from)))::float8 AS delta_seconds
		 FROM test_fact f
		 JOIN signal s ON s.run_id = f.run_id
		 WHERE f.run_id = $1
		   AND f.valid_to = $2
		   AND f.status IN ('fail', 'timeout')
		   AND s.at >= COALESCE(f.completed_at, f.valid_from) - make_interval(secs => $3)
		   AND s.at <= COALESCE(f.completed_at, f.valid_from) + make_interval(secs => $3)
		 ORDER BY f.test_name,
		          abs(EXTRACT(EPOCH FROM (s.at - COALESCE(f.completed_at, f.valid_from))))`,
		runID, temporal.Infinity, window.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: causality walk: %w", err)
	}
	defer rows.Close()

	var out []model.CausalityRow
	for rows.Next() {
		var r model.CausalityRow
		if err := rows.Scan(
			&r.TestName, &r.TestStatus, &r.FailedAt,
			&r.SignalID, &r.SignalKind, &r.SignalAt, &r.SignalValue, &r.SignalMeta,
			&r.DeltaSeconds,
		); err != nil {
			return nil, fmt.Errorf("storage: scan causality row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResonanceMap counts a run's open facts grouped by (bucket, status), where
// bucket is valid_from floored to the given width. Ordered by bucket then
// status.
func (db *DB) ResonanceMap(ctx context.Context, runID string, bucket time.Duration) ([]model.ResonanceBucket, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT to_timestamp(floor(EXTRACT(EPOCH FROM valid_from) / $3) * $3) AS bucket,
		        status,
		        count(*)
		 FROM test_fact
		 WHERE run_id = $1 AND valid_to = $2
		 GROUP BY 1, 2
		 ORDER BY 1, 2`,
		runID, temporal.Infinity, bucket.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: resonance map: %w", err)
	}
	defer rows.Close()

	var out []model.ResonanceBucket
	for rows.Next() {
		var b model.ResonanceBucket
		if err := rows.Scan(&b.Bucket, &b.Status, &b.Count); err != nil {
			return nil, fmt.Errorf("storage: scan resonance bucket: %w", err)
		}
		b.Bucket = b.Bucket.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}
