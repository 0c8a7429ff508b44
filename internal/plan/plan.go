// Package plan defines the candidate query plan: a typed, structured
// representation of a query that is built by the translator, checked by the
// validator, and rendered to executable SQL by the execution guard. Plans
// reference semantic model entities by logical name only.
package plan

import "strings"

type AggFunc string

const (
	AggNone          AggFunc = ""
	AggSum           AggFunc = "sum"
	AggCount         AggFunc = "count"
	AggCountDistinct AggFunc = "count_distinct"
	AggAvg           AggFunc = "avg"
	AggMin           AggFunc = "min"
	AggMax           AggFunc = "max"
)

func (a AggFunc) Valid() bool {
	switch a {
	case AggSum, AggCount, AggCountDistinct, AggAvg, AggMin, AggMax:
		return true
	default:
		return false
	}
}

// TimeGrain truncates a date or timestamp dimension to a coarser bucket.
type TimeGrain string

const (
	GrainNone    TimeGrain = ""
	GrainDay     TimeGrain = "day"
	GrainWeek    TimeGrain = "week"
	GrainMonth   TimeGrain = "month"
	GrainQuarter TimeGrain = "quarter"
	GrainYear    TimeGrain = "year"
)

func (g TimeGrain) Valid() bool {
	switch g {
	case GrainNone, GrainDay, GrainWeek, GrainMonth, GrainQuarter, GrainYear:
		return true
	default:
		return false
	}
}

// ColumnRef names a column on a logical table, optionally time-truncated.
type ColumnRef struct {
	Table  string    `yaml:"table" json:"table"`
	Column string    `yaml:"column" json:"column"`
	Grain  TimeGrain `yaml:"grain,omitempty" json:"grain,omitempty"`
}

func (c ColumnRef) Key() string {
	return c.Table + "." + c.Column + "@" + string(c.Grain)
}

// MetricRef is an aggregated expression. Metric carries the declared metric
// name when the aggregation was resolved from the semantic model; ad-hoc
// aggregations leave it empty. Column is empty for bare COUNT.
type MetricRef struct {
	Metric string  `yaml:"metric,omitempty" json:"metric,omitempty"`
	Agg    AggFunc `yaml:"agg" json:"agg"`
	Table  string  `yaml:"table" json:"table"`
	Column string  `yaml:"column,omitempty" json:"column,omitempty"`
}

// SelectItem is either a dimension column or a metric, never both.
type SelectItem struct {
	Column *ColumnRef `yaml:"column,omitempty" json:"column,omitempty"`
	Metric *MetricRef `yaml:"metric,omitempty" json:"metric,omitempty"`
	Alias  string     `yaml:"alias,omitempty" json:"alias,omitempty"`
}

func (s SelectItem) IsMetric() bool { return s.Metric != nil }

type CompareOp string

const (
	OpEq        CompareOp = "eq"
	OpNeq       CompareOp = "neq"
	OpLt        CompareOp = "lt"
	OpLte       CompareOp = "lte"
	OpGt        CompareOp = "gt"
	OpGte       CompareOp = "gte"
	OpIn        CompareOp = "in"
	OpBetween   CompareOp = "between"
	OpLike      CompareOp = "like"
	OpIsNull    CompareOp = "is_null"
	OpIsNotNull CompareOp = "is_not_null"
)

func (op CompareOp) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpIn, OpBetween, OpLike, OpIsNull, OpIsNotNull:
		return true
	default:
		return false
	}
}

// ValueCount reports how many operand values the operator expects.
// -1 means one or more.
func (op CompareOp) ValueCount() int {
	switch op {
	case OpIsNull, OpIsNotNull:
		return 0
	case OpBetween:
		return 2
	case OpIn:
		return -1
	default:
		return 1
	}
}

type LiteralKind string

const (
	LiteralString LiteralKind = "string"
	LiteralNumber LiteralKind = "number"
	LiteralBool   LiteralKind = "bool"
	LiteralDate   LiteralKind = "date"
)

type Literal struct {
	Kind  LiteralKind `yaml:"kind" json:"kind"`
	Value string      `yaml:"value" json:"value"`
}

// Predicate is a single filter condition on a column.
type Predicate struct {
	Table  string    `yaml:"table" json:"table"`
	Column string    `yaml:"column" json:"column"`
	Op     CompareOp `yaml:"op" json:"op"`
	Values []Literal `yaml:"values,omitempty" json:"values,omitempty"`
}

// Join connects the plan's base table chain along a declared relationship.
type Join struct {
	Relationship string    `yaml:"relationship,omitempty" json:"relationship,omitempty"`
	Table        string    `yaml:"table" json:"table"`
	Keys         []JoinKey `yaml:"keys" json:"keys"`
}

type JoinKey struct {
	LeftTable   string `yaml:"left_table" json:"left_table"`
	LeftColumn  string `yaml:"left_column" json:"left_column"`
	RightColumn string `yaml:"right_column" json:"right_column"`
}

type OrderItem struct {
	Alias string     `yaml:"alias,omitempty" json:"alias,omitempty"`
	Ref   *ColumnRef `yaml:"ref,omitempty" json:"ref,omitempty"`
	Desc  bool       `yaml:"desc,omitempty" json:"desc,omitempty"`
}

// Plan is a candidate query plan. It stays a candidate until the validator
// approves it; rendering to SQL is the execution guard's job.
type Plan struct {
	Select  []SelectItem `yaml:"select" json:"select"`
	From    string       `yaml:"from" json:"from"`
	Joins   []Join       `yaml:"joins,omitempty" json:"joins,omitempty"`
	Where   []Predicate  `yaml:"where,omitempty" json:"where,omitempty"`
	GroupBy []ColumnRef  `yaml:"group_by,omitempty" json:"group_by,omitempty"`
	OrderBy []OrderItem  `yaml:"order_by,omitempty" json:"order_by,omitempty"`
	Limit   int          `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// Tables returns every logical table the plan touches, base table first.
func (p Plan) Tables() []string {
	seen := map[string]bool{}
	tables := make([]string, 0, 1+len(p.Joins))
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		tables = append(tables, name)
	}
	add(p.From)
	for _, join := range p.Joins {
		add(join.Table)
	}
	return tables
}

// HasAggregation reports whether any select item is a metric.
func (p Plan) HasAggregation() bool {
	for _, item := range p.Select {
		if item.IsMetric() {
			return true
		}
	}
	return false
}

// Summary renders a short human-readable description of the plan shape.
func (p Plan) Summary() string {
	var b strings.Builder
	b.WriteString("select ")
	for i, item := range p.Select {
		if i > 0 {
			b.WriteString(", ")
		}
		switch {
		case item.Metric != nil && item.Metric.Column != "":
			b.WriteString(string(item.Metric.Agg) + "(" + item.Metric.Table + "." + item.Metric.Column + ")")
		case item.Metric != nil:
			b.WriteString("count(*)")
		case item.Column != nil && item.Column.Grain != GrainNone:
			b.WriteString(string(item.Column.Grain) + "(" + item.Column.Table + "." + item.Column.Column + ")")
		case item.Column != nil:
			b.WriteString(item.Column.Table + "." + item.Column.Column)
		}
	}
	b.WriteString(" from " + p.From)
	for _, join := range p.Joins {
		b.WriteString(" join " + join.Table)
	}
	if len(p.Where) > 0 {
		b.WriteString(" with ")
		for i, pred := range p.Where {
			if i > 0 {
				b.WriteString(" and ")
			}
			b.WriteString(pred.Table + "." + pred.Column + " " + string(pred.Op))
		}
	}
	return b.String()
}
