// Package duckdb executes rendered analytics queries against an embedded
// DuckDB instance. Table data lives in the object store as parquet files;
// each request stages the files it scans into a temp directory and exposes
// them as views named after the physical table identifiers the SQL scans.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/semquery/semquery/internal/exec"
	"github.com/semquery/semquery/internal/storage"
)

type Engine struct {
	Store storage.ObjectStore
}

func NewEngine(store storage.ObjectStore) *Engine {
	return &Engine{Store: store}
}

func (e *Engine) Execute(ctx context.Context, request exec.Request) (exec.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return exec.Result{}, fmt.Errorf("sql is required")
	}
	if len(request.Files) == 0 {
		return exec.Result{}, fmt.Errorf("no data files for the referenced tables")
	}
	if e.Store == nil {
		return exec.Result{}, fmt.Errorf("object store is required")
	}

	start := time.Now()
	workDir, err := os.MkdirTemp("", "semquery-exec-")
	if err != nil {
		return exec.Result{}, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	staged := map[string][]string{}
	var scannedBytes int64

	for index, file := range request.Files {
		reader, err := e.Store.Get(ctx, file.ObjectPath)
		if err != nil {
			return exec.Result{}, fmt.Errorf("get object %q: %w", file.ObjectPath, err)
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", safeName(file.TableName), index))
		if err := stage(localPath, reader); err != nil {
			_ = reader.Close()
			return exec.Result{}, fmt.Errorf("stage parquet file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			return exec.Result{}, fmt.Errorf("close object %q: %w", file.ObjectPath, err)
		}
		staged[viewName(file)] = append(staged[viewName(file)], localPath)
		scannedBytes += file.FileSizeBytes
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return exec.Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	for name, localPaths := range staged {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(name), quotePathList(localPaths))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return exec.Result{}, fmt.Errorf("create view for table %q: %w", name, err)
		}
	}

	sqlText := trimSemicolons(request.SQL)
	if sqlText == "" {
		return exec.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return exec.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return exec.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return exec.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return exec.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return exec.Result{
		Columns:      columns,
		Rows:         resultRows,
		ScannedFiles: len(request.Files),
		ScannedBytes: scannedBytes,
		Duration:     time.Since(start),
	}, nil
}

func stage(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, reader); err != nil {
		return err
	}
	return nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quotePathList(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func viewName(file exec.TableFile) string {
	if file.PhysicalName != "" {
		return file.PhysicalName
	}
	return file.TableName
}

func safeName(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func trimSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
