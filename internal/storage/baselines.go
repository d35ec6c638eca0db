package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/liminalqa/liminal/internal/model"
	"github.com/liminalqa/liminal/internal/temporal"
)

// RefreshBaselines recomputes per-(test_name, suite) duration baselines from
// the most recent sampleWindow open facts that carry a duration. Sample
// standard deviation (N−1); stddev is 0 for single-sample baselines. Returns
// the number of baselines written.
func (db *DB) RefreshBaselines(ctx context.Context, sampleWindow int, now time.Time) (int64, error) {
	if sampleWindow <= 0 {
		sampleWindow = 50
	}
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO baseline (test_name, suite, mean_duration_ms, stddev_duration_ms, sample_size, last_updated)
		 SELECT test_name, suite,
		        avg(duration_ms),
		        COALESCE(stddev_samp(duration_ms), 0),
		        count(*),
		        $3
		 FROM (
		     SELECT test_name, suite, duration_ms,
		            row_number() OVER (PARTITION BY test_name, suite ORDER BY tx_at DESC) AS rn
		     FROM test_fact
		     WHERE valid_to = $1 AND duration_ms IS NOT NULL
		 ) recent
		 WHERE rn <= $2
		 GROUP BY test_name, suite
		 ON CONFLICT (test_name, suite) DO UPDATE SET
		     mean_duration_ms = EXCLUDED.mean_duration_ms,
		     stddev_duration_ms = EXCLUDED.stddev_duration_ms,
		     sample_size = EXCLUDED.sample_size,
		     last_updated = EXCLUDED.last_updated`,
		temporal.Infinity, sampleWindow, now,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: refresh baselines: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetBaseline retrieves the duration baseline for a test. Returns ErrNotFound
// when the test has no baseline yet.
func (db *DB) GetBaseline(ctx context.Context, testName, suite string) (model.Baseline, error) {
	var b model.Baseline
	err := db.pool.QueryRow(ctx,
		`SELECT test_name, suite, mean_duration_ms, stddev_duration_ms, sample_size, last_updated
		 FROM baseline WHERE test_name = $1 AND suite = $2`,
		testName, suite,
	).Scan(&b.TestName, &b.Suite, &b.MeanDurationMS, &b.StddevDurationMS, &b.SampleSize, &b.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Baseline{}, fmt.Errorf("%w: baseline for (%s, %s)", ErrNotFound, testName, suite)
		}
		return model.Baseline{}, fmt.Errorf("storage: get baseline: %w", err)
	}
	return b, nil
}
