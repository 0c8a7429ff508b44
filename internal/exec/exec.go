// Package exec is the execution guard: the only component that renders
// validated plans to SQL and hands them to a database. It owns timeouts,
// retry policy, and error shaping; raw literal values never appear in the
// errors it returns.
package exec

import (
	"context"
	"fmt"
	"time"
)

// TableFile locates one data file backing a logical table. PhysicalName is
// the identifier the rendered SQL scans; storage layout keys on TableName.
type TableFile struct {
	TableName     string
	PhysicalName  string
	ObjectPath    string
	FileSizeBytes int64
}

// Request is a rendered query plus the files it scans.
type Request struct {
	SQL      string
	RowLimit int
	Files    []TableFile
}

// Result is a bounded, fully materialized query result.
type Result struct {
	Columns      []string
	Rows         [][]any
	ScannedFiles int
	ScannedBytes int64
	Duration     time.Duration
}

// Executor runs one rendered query. Implementations do not retry; the guard
// owns that.
type Executor interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// FileSource maps logical tables of a model to their current data files.
type FileSource interface {
	TableFiles(ctx context.Context, modelName string, tables []string) ([]TableFile, error)
}

// Error is an execution failure after the guard gave up. Transient marks
// failures that a later identical request might not hit. SQL carries the
// literal-redacted statement, safe for logs and API responses.
type Error struct {
	Transient bool
	Attempts  int
	SQL       string
	Err       error
}

func (e *Error) Error() string {
	state := "terminal"
	if e.Transient {
		state = "transient"
	}
	return fmt.Sprintf("execution failed (%s, %d attempt(s)): %v", state, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
