package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// PostgresIntrospector reads table, column, and key metadata from a
// postgres-compatible warehouse through information_schema.
type PostgresIntrospector struct {
	db     *sql.DB
	schema string

	// SampleLimit bounds sample values fetched per column. Zero disables
	// sampling.
	SampleLimit int
}

func NewPostgresIntrospector(db *sql.DB, schema string) *PostgresIntrospector {
	if schema == "" {
		schema = "public"
	}
	return &PostgresIntrospector{db: db, schema: schema, SampleLimit: 5}
}

func (p *PostgresIntrospector) ListTables(ctx context.Context) ([]TableMeta, error) {
	query := `
SELECT t.table_name, COALESCE(c.reltuples::bigint, 0)
FROM information_schema.tables t
LEFT JOIN pg_class c ON c.relname = t.table_name
WHERE t.table_schema = $1 AND t.table_type = 'BASE TABLE'
ORDER BY t.table_name`

	rows, err := p.db.QueryContext(ctx, query, p.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []TableMeta
	for rows.Next() {
		var meta TableMeta
		meta.Schema = p.schema
		if err := rows.Scan(&meta.Name, &meta.RowCount); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		if meta.RowCount < 0 {
			meta.RowCount = 0
		}
		tables = append(tables, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func (p *PostgresIntrospector) ListColumns(ctx context.Context, table string) ([]ColumnMeta, error) {
	query := `
SELECT c.column_name, c.data_type, c.is_nullable = 'YES',
       COALESCE((
           SELECT CASE tc.constraint_type
                  WHEN 'PRIMARY KEY' THEN 'primary'
                  WHEN 'FOREIGN KEY' THEN 'foreign'
                  ELSE '' END
           FROM information_schema.key_column_usage kcu
           JOIN information_schema.table_constraints tc
             ON tc.constraint_name = kcu.constraint_name
            AND tc.table_schema = kcu.table_schema
           WHERE kcu.table_schema = c.table_schema
             AND kcu.table_name = c.table_name
             AND kcu.column_name = c.column_name
           ORDER BY CASE tc.constraint_type WHEN 'PRIMARY KEY' THEN 0 ELSE 1 END
           LIMIT 1
       ), '')
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

	rows, err := p.db.QueryContext(ctx, query, p.schema, table)
	if err != nil {
		return nil, fmt.Errorf("list columns for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []ColumnMeta
	for rows.Next() {
		var meta ColumnMeta
		var role string
		if err := rows.Scan(&meta.Name, &meta.Type, &meta.Nullable, &role); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		meta.KeyRole = KeyRole(role)
		columns = append(columns, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	if p.SampleLimit > 0 {
		for i := range columns {
			samples, err := p.sampleColumn(ctx, table, columns[i].Name)
			if err != nil {
				// Sampling is best-effort enrichment, not metadata.
				continue
			}
			columns[i].SampleValues = samples
		}
	}
	return columns, nil
}

func (p *PostgresIntrospector) ListForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	query := `
SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type = 'FOREIGN KEY'
ORDER BY kcu.table_name, kcu.column_name`

	rows, err := p.db.QueryContext(ctx, query, p.schema)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []ForeignKey
	for rows.Next() {
		var key ForeignKey
		if err := rows.Scan(&key.Table, &key.Column, &key.RefTable, &key.RefColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return keys, nil
}

func (p *PostgresIntrospector) sampleColumn(ctx context.Context, table, column string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s::text FROM %s.%s WHERE %s IS NOT NULL LIMIT %s`,
		quoteIdent(column), quoteIdent(p.schema), quoteIdent(table), quoteIdent(column),
		strconv.Itoa(p.SampleLimit))

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var samples []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		samples = append(samples, value)
	}
	return samples, rows.Err()
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
