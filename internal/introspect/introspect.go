// Package introspect reads raw warehouse metadata. It is a pull-based data
// source consumed by the semantic model generator; the online query path
// never touches it.
package introspect

import "context"

type KeyRole string

const (
	KeyNone    KeyRole = ""
	KeyPrimary KeyRole = "primary"
	KeyForeign KeyRole = "foreign"
)

type TableMeta struct {
	Schema   string
	Name     string
	RowCount int64
}

type ColumnMeta struct {
	Name         string
	Type         string
	Nullable     bool
	KeyRole      KeyRole
	SampleValues []string
}

type ForeignKey struct {
	Table     string
	Column    string
	RefTable  string
	RefColumn string
}

type Introspector interface {
	ListTables(ctx context.Context) ([]TableMeta, error)
	ListColumns(ctx context.Context, table string) ([]ColumnMeta, error)
	ListForeignKeys(ctx context.Context) ([]ForeignKey, error)
}
