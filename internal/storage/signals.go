package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/liminalqa/liminal/internal/model"
)

// copyThreshold is the batch size at or above which signal inserts switch to
// the COPY protocol.
const copyThreshold = 10

var signalColumns = []string{"signal_id", "run_id", "test_id", "test_name", "kind", "latency_ms", "value", "meta", "at", "tx_at"}

// InsertSignals stores signals in its own transaction.
func (db *DB) InsertSignals(ctx context.Context, signals []model.Signal) error {
	return db.InTx(ctx, func(q Querier) error {
		return InsertSignalsTx(ctx, q, signals)
	})
}

// InsertSignalsTx appends signals inside an existing transaction. Large
// batches use the COPY protocol for throughput; small ones plain INSERTs.
func InsertSignalsTx(ctx context.Context, q Querier, signals []model.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	if len(signals) >= copyThreshold {
		rows := make([][]any, len(signals))
		for i, s := range signals {
			meta := s.Meta
			if meta == nil {
				meta = map[string]any{}
			}
			rows[i] = []any{
				s.SignalID, s.RunID, s.TestID, s.TestName, string(s.Kind),
				s.LatencyMS, s.Value, meta, s.At, s.TxAt,
			}
		}

		copyCtx, cancel := context.WithTimeout(ctx, copyTimeout)
		defer cancel()
		if _, err := q.CopyFrom(copyCtx,
			pgx.Identifier{"signal"}, signalColumns, pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("storage: copy signals: %w", err)
		}
		return nil
	}

	for _, s := range signals {
		meta := s.Meta
		if meta == nil {
			meta = map[string]any{}
		}
		if _, err := q.Exec(ctx,
			`INSERT INTO signal (signal_id, run_id, test_id, test_name, kind, latency_ms, value, meta, at, tx_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			s.SignalID, s.RunID, s.TestID, s.TestName, string(s.Kind),
			s.LatencyMS, s.Value, meta, s.At, s.TxAt,
		); err != nil {
			return fmt.Errorf("storage: insert signal: %w", err)
		}
	}
	return nil
}

// SignalsByRun returns a run's signals ordered by observation time.
func (db *DB) SignalsByRun(ctx context.Context, runID string, limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT signal_id, run_id, test_id, test_name, kind, latency_ms, value, meta, at, tx_at
		 FROM signal WHERE run_id = $1
		 ORDER BY at
		 LIMIT $2`, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: signals by run: %w", err)
	}
	defer rows.Close()

	var signals []model.Signal
	for rows.Next() {
		var s model.Signal
		if err := rows.Scan(
			&s.SignalID, &s.RunID, &s.TestID, &s.TestName, &s.Kind,
			&s.LatencyMS, &s.Value, &s.Meta, &s.At, &s.TxAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan signal: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}
