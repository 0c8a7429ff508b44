// Package migrations applies the registry schema. Migration scripts are
// embedded as numbered up/down pairs under sql/ and tracked in a bookkeeping
// table so runs are idempotent.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const migrationTable = "semquery_schema_migrations"

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type migration struct {
	Version int64
	UpSQL   string
	DownSQL string
}

// Up applies pending migrations in ascending version order. steps > 0 caps
// how many are applied; steps <= 0 applies all. Returns the applied count.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	items, applied, err := r.prepare(ctx, db, "ASC")
	if err != nil {
		return 0, err
	}

	done := make(map[int64]bool, len(applied))
	for _, version := range applied {
		done[version] = true
	}

	count := 0
	for _, item := range items {
		if done[item.Version] {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}
		mark := `INSERT INTO ` + migrationTable + ` (version) VALUES ($1)`
		if err := runInTx(ctx, db, item.Version, item.UpSQL, mark); err != nil {
			return count, fmt.Errorf("apply migration %d: %w", item.Version, err)
		}
		count++
	}
	return count, nil
}

// Down rolls back the most recently applied migrations. steps <= 0 rolls
// back one. Returns the rolled-back count.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}

	items, applied, err := r.prepare(ctx, db, "DESC")
	if err != nil {
		return 0, err
	}

	byVersion := make(map[int64]migration, len(items))
	for _, item := range items {
		byVersion[item.Version] = item
	}

	count := 0
	for _, version := range applied {
		if count >= steps {
			break
		}
		item, ok := byVersion[version]
		if !ok {
			return count, fmt.Errorf("applied migration %d is missing from source", version)
		}
		mark := `DELETE FROM ` + migrationTable + ` WHERE version = $1`
		if err := runInTx(ctx, db, item.Version, item.DownSQL, mark); err != nil {
			return count, fmt.Errorf("rollback migration %d: %w", item.Version, err)
		}
		count++
	}
	return count, nil
}

// prepare loads the migration source, ensures the bookkeeping table, and
// returns the applied versions in the requested order.
func (r *Runner) prepare(ctx context.Context, db *sql.DB, order string) ([]migration, []int64, error) {
	items, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, nil, err
	}

	ddl := `
CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, nil, fmt.Errorf("ensure migration table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM `+migrationTable+` ORDER BY version `+order)
	if err != nil {
		return nil, nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var applied []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, nil, fmt.Errorf("scan version: %w", err)
		}
		applied = append(applied, version)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows error: %w", err)
	}
	return items, applied, nil
}

// runInTx executes script and the bookkeeping mark in one transaction so a
// half-applied migration never reports as applied.
func runInTx(ctx context.Context, db *sql.DB, version int64, script, mark string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, mark, version); err != nil {
		return fmt.Errorf("bookkeeping: %w", err)
	}
	return tx.Commit()
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := path.Base(entry.Name())
		matches := migrationNamePattern.FindStringSubmatch(name)
		if matches == nil {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", name, err)
		}

		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item := byVersion[version]
		item.Version = version
		if matches[2] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
		byVersion[version] = item
	}

	items := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Version < items[j].Version })
	return items, nil
}
