package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/liminalqa/liminal/internal/model"
)

// CreateSystem registers a system under test. Systems are immutable;
// re-registering an existing system_id is a no-op.
func (db *DB) CreateSystem(ctx context.Context, s model.System) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO system (system_id, name, version, repository, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (system_id) DO NOTHING`,
		s.SystemID, s.Name, s.Version, s.Repository, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create system: %w", err)
	}
	return nil
}

// GetSystem retrieves a system by ID. Returns ErrNotFound when absent.
func (db *DB) GetSystem(ctx context.Context, systemID string) (model.System, error) {
	var s model.System
	err := db.pool.QueryRow(ctx,
		`SELECT system_id, name, version, repository, created_at
		 FROM system WHERE system_id = $1`, systemID,
	).Scan(&s.SystemID, &s.Name, &s.Version, &s.Repository, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.System{}, fmt.Errorf("%w: system %s", ErrNotFound, systemID)
		}
		return model.System{}, fmt.Errorf("storage: get system: %w", err)
	}
	return s, nil
}

// ListSystems returns all registered systems ordered by name.
func (db *DB) ListSystems(ctx context.Context) ([]model.System, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT system_id, name, version, repository, created_at
		 FROM system ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list systems: %w", err)
	}
	defer rows.Close()

	var systems []model.System
	for rows.Next() {
		var s model.System
		if err := rows.Scan(&s.SystemID, &s.Name, &s.Version, &s.Repository, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan system: %w", err)
		}
		systems = append(systems, s)
	}
	return systems, rows.Err()
}

// CreateBuild registers a build of a system. Builds are immutable;
// re-registering an existing build_id is a no-op. The referenced system must
// exist.
func (db *DB) CreateBuild(ctx context.Context, b model.Build) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO build (build_id, system_id, commit_sha, branch, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (build_id) DO NOTHING`,
		b.BuildID, b.SystemID, b.CommitSHA, b.Branch, b.Version, b.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: system %s", ErrNotFound, b.SystemID)
		}
		return fmt.Errorf("storage: create build: %w", err)
	}
	return nil
}

// GetBuild retrieves a build by ID. Returns ErrNotFound when absent.
func (db *DB) GetBuild(ctx context.Context, buildID string) (model.Build, error) {
	var b model.Build
	err := db.pool.QueryRow(ctx,
		`SELECT build_id, system_id, commit_sha, branch, version, created_at
		 FROM build WHERE build_id = $1`, buildID,
	).Scan(&b.BuildID, &b.SystemID, &b.CommitSHA, &b.Branch, &b.Version, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Build{}, fmt.Errorf("%w: build %s", ErrNotFound, buildID)
		}
		return model.Build{}, fmt.Errorf("storage: get build: %w", err)
	}
	return b, nil
}
