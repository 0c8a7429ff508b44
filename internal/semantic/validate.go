package semantic

import (
	"fmt"
	"strings"
)

// Validate checks the model's internal invariants: unique logical names,
// metrics over declared columns, relationships between declared tables with
// existing, type-compatible join keys, and verified queries that reference
// only declared entities. A model that fails Validate must never be
// published to the online path.
func (m *Model) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("model name is required")
	}
	if m.Version <= 0 {
		return fmt.Errorf("model version must be positive")
	}
	if len(m.Tables) == 0 {
		return fmt.Errorf("model has no tables")
	}

	tableNames := map[string]bool{}
	for i := range m.Tables {
		table := &m.Tables[i]
		if strings.TrimSpace(table.Name) == "" {
			return fmt.Errorf("table %d has no logical name", i)
		}
		if strings.TrimSpace(table.PhysicalName) == "" {
			return fmt.Errorf("table %q has no physical reference", table.Name)
		}
		if tableNames[table.Name] {
			return fmt.Errorf("duplicate table name %q", table.Name)
		}
		tableNames[table.Name] = true

		if err := validateTable(table); err != nil {
			return err
		}
	}

	relationshipNames := map[string]bool{}
	for i := range m.Relationships {
		rel := &m.Relationships[i]
		if rel.Name == "" {
			rel.Name = rel.LeftTable + "_" + rel.RightTable
		}
		if relationshipNames[rel.Name] {
			return fmt.Errorf("duplicate relationship name %q", rel.Name)
		}
		relationshipNames[rel.Name] = true
		if err := m.validateRelationship(rel); err != nil {
			return err
		}
	}

	for i := range m.VerifiedQueries {
		if err := m.validateVerifiedQuery(&m.VerifiedQueries[i]); err != nil {
			return fmt.Errorf("verified query %d: %w", i, err)
		}
	}

	return nil
}

func validateTable(table *Table) error {
	if len(table.Columns) == 0 {
		return fmt.Errorf("table %q has no columns", table.Name)
	}

	names := map[string]bool{}
	for _, column := range table.Columns {
		if strings.TrimSpace(column.Name) == "" {
			return fmt.Errorf("table %q has a column without a name", table.Name)
		}
		if !column.Type.Valid() {
			return fmt.Errorf("column %s.%s has invalid type %q", table.Name, column.Name, column.Type)
		}
		if names[column.Name] {
			return fmt.Errorf("duplicate name %q in table %q", column.Name, table.Name)
		}
		names[column.Name] = true
	}

	for _, metric := range table.Metrics {
		if strings.TrimSpace(metric.Name) == "" {
			return fmt.Errorf("table %q has a metric without a name", table.Name)
		}
		if names[metric.Name] {
			return fmt.Errorf("duplicate name %q in table %q", metric.Name, table.Name)
		}
		names[metric.Name] = true
		if !metric.Agg.Valid() {
			return fmt.Errorf("metric %s.%s has invalid aggregation %q", table.Name, metric.Name, metric.Agg)
		}
		if !metric.Type.Valid() {
			return fmt.Errorf("metric %s.%s has invalid return type %q", table.Name, metric.Name, metric.Type)
		}
		if metric.Column != "" {
			if _, ok := table.Column(metric.Column); !ok {
				return fmt.Errorf("metric %s.%s references unknown column %q", table.Name, metric.Name, metric.Column)
			}
		}
	}

	return nil
}

func (m *Model) validateRelationship(rel *Relationship) error {
	left, ok := m.Table(rel.LeftTable)
	if !ok {
		return fmt.Errorf("relationship %q references unknown table %q", rel.Name, rel.LeftTable)
	}
	right, ok := m.Table(rel.RightTable)
	if !ok {
		return fmt.Errorf("relationship %q references unknown table %q", rel.Name, rel.RightTable)
	}
	if !rel.Cardinality.Valid() {
		return fmt.Errorf("relationship %q has invalid cardinality %q", rel.Name, rel.Cardinality)
	}
	if len(rel.JoinKeys) == 0 {
		return fmt.Errorf("relationship %q has no join keys", rel.Name)
	}
	for _, key := range rel.JoinKeys {
		leftColumn, ok := left.Column(key.LeftColumn)
		if !ok {
			return fmt.Errorf("relationship %q: column %s.%s does not exist", rel.Name, rel.LeftTable, key.LeftColumn)
		}
		rightColumn, ok := right.Column(key.RightColumn)
		if !ok {
			return fmt.Errorf("relationship %q: column %s.%s does not exist", rel.Name, rel.RightTable, key.RightColumn)
		}
		if !leftColumn.Type.Comparable(rightColumn.Type) {
			return fmt.Errorf("relationship %q: join key types %q and %q are incompatible",
				rel.Name, leftColumn.Type, rightColumn.Type)
		}
	}
	return nil
}

func (m *Model) validateVerifiedQuery(vq *VerifiedQuery) error {
	if strings.TrimSpace(vq.Question) == "" {
		return fmt.Errorf("question is required")
	}
	for _, tableName := range vq.Plan.Tables() {
		if _, ok := m.Table(tableName); !ok {
			return fmt.Errorf("plan references unknown table %q", tableName)
		}
	}
	for _, item := range vq.Plan.Select {
		if item.Column != nil {
			if !m.columnExists(item.Column.Table, item.Column.Column) {
				return fmt.Errorf("plan references unknown column %s.%s", item.Column.Table, item.Column.Column)
			}
		}
		if item.Metric != nil && item.Metric.Column != "" {
			if !m.columnExists(item.Metric.Table, item.Metric.Column) {
				return fmt.Errorf("plan references unknown column %s.%s", item.Metric.Table, item.Metric.Column)
			}
		}
	}
	return nil
}

func (m *Model) columnExists(table, column string) bool {
	t, ok := m.Table(table)
	if !ok {
		return false
	}
	_, ok = t.Column(column)
	return ok
}
