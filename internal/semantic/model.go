// Package semantic defines the semantic model: the versioned, declarative
// contract that maps physical warehouse structures to logical tables, columns,
// metrics, and relationships. The model is immutable once published; the
// online query path only ever reads it.
package semantic

import (
	"github.com/semquery/semquery/internal/plan"
)

type DataType string

const (
	TypeString    DataType = "string"
	TypeInteger   DataType = "integer"
	TypeDecimal   DataType = "decimal"
	TypeDate      DataType = "date"
	TypeTimestamp DataType = "timestamp"
	TypeBoolean   DataType = "boolean"
)

func (t DataType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeDecimal, TypeDate, TypeTimestamp, TypeBoolean:
		return true
	default:
		return false
	}
}

func (t DataType) Numeric() bool {
	return t == TypeInteger || t == TypeDecimal
}

func (t DataType) Temporal() bool {
	return t == TypeDate || t == TypeTimestamp
}

// Comparable reports whether values of type other can appear as filter
// operands against a column of type t.
func (t DataType) Comparable(other DataType) bool {
	if t == other {
		return true
	}
	if t.Numeric() && other.Numeric() {
		return true
	}
	if t.Temporal() && other.Temporal() {
		return true
	}
	return false
}

type Cardinality string

const (
	OneToOne   Cardinality = "one_to_one"
	OneToMany  Cardinality = "one_to_many"
	ManyToMany Cardinality = "many_to_many"
)

func (c Cardinality) Valid() bool {
	switch c {
	case OneToOne, OneToMany, ManyToMany:
		return true
	default:
		return false
	}
}

type Column struct {
	Name         string   `yaml:"name"`
	PhysicalName string   `yaml:"physical_name"`
	Type         DataType `yaml:"type"`
	Description  string   `yaml:"description,omitempty"`
	Synonyms     []string `yaml:"synonyms,omitempty"`
	SampleValues []string `yaml:"sample_values,omitempty"`
}

type Metric struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Agg         plan.AggFunc `yaml:"agg"`
	Column      string       `yaml:"column,omitempty"`
	Type        DataType     `yaml:"type"`
	Synonyms    []string     `yaml:"synonyms,omitempty"`
}

type Table struct {
	Name         string   `yaml:"name"`
	PhysicalName string   `yaml:"physical_name"`
	Description  string   `yaml:"description,omitempty"`
	Columns      []Column `yaml:"columns"`
	Metrics      []Metric `yaml:"metrics,omitempty"`
}

func (t *Table) Column(name string) (Column, bool) {
	for _, column := range t.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

func (t *Table) Metric(name string) (Metric, bool) {
	for _, metric := range t.Metrics {
		if metric.Name == name {
			return metric, true
		}
	}
	return Metric{}, false
}

type JoinKey struct {
	LeftColumn  string `yaml:"left_column"`
	RightColumn string `yaml:"right_column"`
}

type Relationship struct {
	Name        string      `yaml:"name"`
	LeftTable   string      `yaml:"left_table"`
	RightTable  string      `yaml:"right_table"`
	Cardinality Cardinality `yaml:"cardinality"`
	JoinKeys    []JoinKey   `yaml:"join_keys"`
}

// VerifiedQuery is a curated question with its known-correct plan. Verified
// queries steer grounding tie-breaks and serve as regression fixtures.
type VerifiedQuery struct {
	Name     string    `yaml:"name,omitempty"`
	Question string    `yaml:"question"`
	Plan     plan.Plan `yaml:"plan"`
}

type Model struct {
	Name            string          `yaml:"name"`
	Version         int             `yaml:"version"`
	Description     string          `yaml:"description,omitempty"`
	Tables          []Table         `yaml:"tables"`
	Relationships   []Relationship  `yaml:"relationships,omitempty"`
	VerifiedQueries []VerifiedQuery `yaml:"verified_queries,omitempty"`
}

func (m *Model) Table(name string) (*Table, bool) {
	for i := range m.Tables {
		if m.Tables[i].Name == name {
			return &m.Tables[i], true
		}
	}
	return nil, false
}

// MetricReturnType resolves the effective data type of a metric reference in
// a plan: the declared type for named metrics, otherwise derived from the
// aggregation and base column.
func (m *Model) MetricReturnType(ref plan.MetricRef) (DataType, bool) {
	table, ok := m.Table(ref.Table)
	if !ok {
		return "", false
	}
	if ref.Metric != "" {
		metric, ok := table.Metric(ref.Metric)
		if !ok {
			return "", false
		}
		return metric.Type, true
	}
	switch ref.Agg {
	case plan.AggCount, plan.AggCountDistinct:
		return TypeInteger, true
	case plan.AggAvg:
		return TypeDecimal, true
	}
	column, ok := table.Column(ref.Column)
	if !ok {
		return "", false
	}
	return column.Type, true
}

// PhysicalTable returns the physical identifier for a logical table, falling
// back to the logical name when unknown.
func (m *Model) PhysicalTable(table string) string {
	if t, ok := m.Table(table); ok && t.PhysicalName != "" {
		return t.PhysicalName
	}
	return table
}

// PhysicalColumn returns the physical identifier for a logical column.
func (m *Model) PhysicalColumn(table, column string) string {
	if t, ok := m.Table(table); ok {
		if c, ok := t.Column(column); ok && c.PhysicalName != "" {
			return c.PhysicalName
		}
	}
	return column
}
