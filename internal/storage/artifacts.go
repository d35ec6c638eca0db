package storage

import (
	"context"
	"fmt"

	"github.com/liminalqa/liminal/internal/model"
)

// InsertArtifacts stores artifacts in its own transaction.
func (db *DB) InsertArtifacts(ctx context.Context, artifacts []model.Artifact) error {
	return db.InTx(ctx, func(q Querier) error {
		return InsertArtifactsTx(ctx, q, artifacts)
	})
}

// InsertArtifactsTx appends artifacts inside an existing transaction.
func InsertArtifactsTx(ctx context.Context, q Querier, artifacts []model.Artifact) error {
	for _, a := range artifacts {
		if _, err := q.Exec(ctx,
			`INSERT INTO artifact (artifact_id, run_id, test_id, test_name, kind, content_hash, path, size_bytes, mime_type, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			a.ArtifactID, a.RunID, a.TestID, a.TestName, string(a.Kind),
			a.ContentHash, a.Path, a.SizeBytes, a.MimeType, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("storage: insert artifact: %w", err)
		}
	}
	return nil
}

// ArtifactsByRun returns a run's artifacts ordered by creation time.
func (db *DB) ArtifactsByRun(ctx context.Context, runID string, limit int) ([]model.Artifact, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT artifact_id, run_id, test_id, test_name, kind, content_hash, path, size_bytes, mime_type, created_at
		 FROM artifact WHERE run_id = $1
		 ORDER BY created_at
		 LIMIT $2`, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: artifacts by run: %w", err)
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(
			&a.ArtifactID, &a.RunID, &a.TestID, &a.TestName, &a.Kind,
			&a.ContentHash, &a.Path, &a.SizeBytes, &a.MimeType, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
