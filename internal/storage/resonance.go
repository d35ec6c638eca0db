package storage

import (
	"context"
	"fmt"

	"github.com/liminalqa/liminal/internal/model"
)

// UpsertResonance records a detected instability pattern. Re-detection of an
// existing pattern_id bumps occurrences, extends last_seen, refreshes the
// score, and unions the affected test sets.
func (db *DB) UpsertResonance(ctx context.Context, r model.Resonance) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO resonance (resonance_id, pattern_id, description, score, occurrences, first_seen, last_seen, affected_tests, root_cause)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (pattern_id) DO UPDATE SET
		     description = EXCLUDED.description,
		     score = EXCLUDED.score,
		     occurrences = resonance.occurrences + 1,
		     last_seen = EXCLUDED.last_seen,
		     affected_tests = ARRAY(
		         SELECT DISTINCT t FROM unnest(resonance.affected_tests || EXCLUDED.affected_tests) AS t
		     ),
		     root_cause = COALESCE(EXCLUDED.root_cause, resonance.root_cause)`,
		r.ResonanceID, r.PatternID, r.Description, r.Score, r.Occurrences,
		r.FirstSeen, r.LastSeen, r.AffectedTests, r.RootCause,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert resonance: %w", err)
	}
	return nil
}

// ListResonances returns detected patterns, strongest first.
func (db *DB) ListResonances(ctx context.Context, limit int) ([]model.Resonance, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT resonance_id, pattern_id, description, score, occurrences, first_seen, last_seen, affected_tests, root_cause
		 FROM resonance
		 ORDER BY score DESC, last_seen DESC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list resonances: %w", err)
	}
	defer rows.Close()

	var out []model.Resonance
	for rows.Next() {
		var r model.Resonance
		if err := rows.Scan(
			&r.ResonanceID, &r.PatternID, &r.Description, &r.Score, &r.Occurrences,
			&r.FirstSeen, &r.LastSeen, &r.AffectedTests, &r.RootCause,
		); err != nil {
			return nil, fmt.Errorf("storage: scan resonance: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
