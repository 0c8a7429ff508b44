// Package ground maps natural-language questions onto semantic model
// entities. Its output is the grounded intermediate representation (GIR):
// the disambiguated, structured form of one question. Grounding prefers
// exact matches over synonyms over LLM-assisted fuzzy matches, and fails
// closed on ties instead of guessing.
package ground

import (
	"github.com/semquery/semquery/internal/plan"
)

// MatchSource records how an entity was grounded, ordered by preference.
type MatchSource string

const (
	SourceExact   MatchSource = "exact"
	SourceSynonym MatchSource = "synonym"
	SourceContext MatchSource = "context"
	SourceFuzzy   MatchSource = "fuzzy"
)

type EntityKind string

const (
	KindColumn EntityKind = "column"
	KindMetric EntityKind = "metric"
)

// MetricSel is a grounded aggregation request. Metric names the model metric
// when one was matched; ad-hoc aggregations carry only Agg and Column.
type MetricSel struct {
	Metric     string       `json:"metric,omitempty"`
	Agg        plan.AggFunc `json:"agg"`
	Table      string       `json:"table"`
	Column     string       `json:"column,omitempty"`
	Confidence float64      `json:"confidence"`
	Source     MatchSource  `json:"source"`
}

// DimensionSel is a grounded grouping dimension.
type DimensionSel struct {
	Table      string         `json:"table"`
	Column     string         `json:"column"`
	Grain      plan.TimeGrain `json:"grain,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     MatchSource    `json:"source"`
}

// FilterSel is a grounded filter condition.
type FilterSel struct {
	Table      string         `json:"table"`
	Column     string         `json:"column"`
	Op         plan.CompareOp `json:"op"`
	Values     []plan.Literal `json:"values,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     MatchSource    `json:"source"`
}

// GIR is the grounded intermediate representation of one turn. It lives for
// the duration of the request pipeline and, once the turn completes, as a
// conversation-context entry; it is never persisted beyond that.
type GIR struct {
	Question   string         `json:"question"`
	Metrics    []MetricSel    `json:"metrics,omitempty"`
	Dimensions []DimensionSel `json:"dimensions,omitempty"`
	Filters    []FilterSel    `json:"filters,omitempty"`
	OrderDesc  bool           `json:"order_desc,omitempty"`
	Limit      int            `json:"limit,omitempty"`

	// Elliptical marks questions that lean on the conversation context
	// ("now by month instead"); the context manager uses it when merging.
	Elliptical bool `json:"elliptical,omitempty"`
}

// Tables lists every table the GIR references, in first-use order.
func (g GIR) Tables() []string {
	seen := map[string]bool{}
	var tables []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		tables = append(tables, name)
	}
	for _, metric := range g.Metrics {
		add(metric.Table)
	}
	for _, dimension := range g.Dimensions {
		add(dimension.Table)
	}
	for _, filter := range g.Filters {
		add(filter.Table)
	}
	return tables
}

// Focus is the inheritable entity set a session carries between turns.
type Focus struct {
	Metrics    []MetricSel
	Dimensions []DimensionSel
	Filters    []FilterSel
	Tables     []string
}

func (f Focus) hasTable(name string) bool {
	for _, table := range f.Tables {
		if table == name {
			return true
		}
	}
	return false
}

func (f Focus) hasColumn(table, column string) bool {
	for _, dimension := range f.Dimensions {
		if dimension.Table == table && dimension.Column == column {
			return true
		}
	}
	for _, filter := range f.Filters {
		if filter.Table == table && filter.Column == column {
			return true
		}
	}
	for _, metric := range f.Metrics {
		if metric.Table == table && metric.Column == column {
			return true
		}
	}
	return false
}
