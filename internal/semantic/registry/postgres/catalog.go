package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/semquery/semquery/internal/semantic/registry"
)

// Catalog is the postgres-backed version catalog.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping registry db: %w", err)
	}
	return nil
}

func (c *Catalog) NextVersion(ctx context.Context, modelName string) (int, error) {
	query := `
SELECT COALESCE(MAX(version), 0) + 1
FROM model_version
WHERE model_name = $1`

	var next int
	if err := c.db.QueryRowContext(ctx, query, modelName).Scan(&next); err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return next, nil
}

func (c *Catalog) InsertVersion(ctx context.Context, v registry.Version) (registry.Version, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return registry.Version{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if v.Active {
		if _, err := tx.ExecContext(ctx, `
UPDATE model_version
SET active = FALSE
WHERE active`); err != nil {
			return registry.Version{}, fmt.Errorf("deactivate previous version: %w", err)
		}
	}

	query := `
INSERT INTO model_version (model_name, version, artifact_path, published_by, active)
VALUES ($1, $2, $3, $4, $5)
RETURNING published_at`
	if err := tx.QueryRowContext(ctx, query, v.ModelName, v.Version, v.ArtifactPath, v.PublishedBy, v.Active).Scan(&v.PublishedAt); err != nil {
		return registry.Version{}, fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return registry.Version{}, fmt.Errorf("commit version: %w", err)
	}
	return v, nil
}

func (c *Catalog) ActiveVersion(ctx context.Context) (registry.Version, error) {
	query := `
SELECT model_name, version, artifact_path, published_by, published_at, active
FROM model_version
WHERE active`

	var v registry.Version
	if err := c.db.QueryRowContext(ctx, query).Scan(
		&v.ModelName,
		&v.Version,
		&v.ArtifactPath,
		&v.PublishedBy,
		&v.PublishedAt,
		&v.Active,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Version{}, registry.ErrNotFound
		}
		return registry.Version{}, fmt.Errorf("active version: %w", err)
	}
	return v, nil
}

func (c *Catalog) ListVersions(ctx context.Context, modelName string) ([]registry.Version, error) {
	query := `
SELECT model_name, version, artifact_path, published_by, published_at, active
FROM model_version
WHERE $1 = '' OR model_name = $1
ORDER BY model_name ASC, version DESC`

	rows, err := c.db.QueryContext(ctx, query, modelName)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	versions := make([]registry.Version, 0)
	for rows.Next() {
		var v registry.Version
		if err := rows.Scan(&v.ModelName, &v.Version, &v.ArtifactPath, &v.PublishedBy, &v.PublishedAt, &v.Active); err != nil {
			return nil, fmt.Errorf("scan version row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version rows: %w", err)
	}
	return versions, nil
}

// DeleteVersion removes one version row. Deleting the active version is
// refused so retention can never take the serving model away.
func (c *Catalog) DeleteVersion(ctx context.Context, modelName string, version int) error {
	result, err := c.db.ExecContext(ctx, `
DELETE FROM model_version
WHERE model_name = $1 AND version = $2 AND NOT active`, modelName, version)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete version result: %w", err)
	}
	if affected == 0 {
		return registry.ErrNotFound
	}
	return nil
}
