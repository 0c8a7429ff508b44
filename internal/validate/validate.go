// Package validate checks query plans against the semantic model before
// anything is rendered to SQL. A plan that has not passed validation cannot
// reach the executor: the Validated wrapper type is only constructed here.
package validate

import (
	"fmt"
	"strconv"

	"github.com/semquery/semquery/internal/plan"
	"github.com/semquery/semquery/internal/semantic"
)

// Kind classifies a validation failure. The kinds are stable identifiers
// carried on API error responses and used to steer plan repair.
type Kind string

const (
	KindExistence   Kind = "existence"
	KindJoin        Kind = "join"
	KindAggregation Kind = "aggregation"
	KindFilterType  Kind = "filter_type"
	KindCardinality Kind = "cardinality"
)

// Error is a structured validation failure naming the offending plan element.
type Error struct {
	Kind    Kind
	Element string
	Detail  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Element, e.Detail)
}

// Validated wraps a plan that passed every check against a specific model
// version. Executors accept only Validated plans.
type Validated struct {
	Plan         plan.Plan
	ModelName    string
	ModelVersion int
}

// Check validates p against model. On success it returns the Validated
// wrapper; on the first failure it returns a *Error.
func Check(model *semantic.Model, p plan.Plan) (Validated, error) {
	v := &checker{model: model, plan: p}
	for _, check := range []func() *Error{
		v.checkExistence,
		v.checkJoins,
		v.checkAggregation,
		v.checkFilterTypes,
		v.checkCardinality,
	} {
		if err := check(); err != nil {
			return Validated{}, err
		}
	}
	return Validated{Plan: p, ModelName: model.Name, ModelVersion: model.Version}, nil
}

type checker struct {
	model *semantic.Model
	plan  plan.Plan
}

// scope is the set of tables the plan's FROM and JOIN clauses bring in.
func (c *checker) scope() map[string]bool {
	scope := map[string]bool{c.plan.From: true}
	for _, join := range c.plan.Joins {
		scope[join.Table] = true
	}
	return scope
}

func (c *checker) column(ref plan.ColumnRef) (semantic.Column, *Error) {
	table, ok := c.model.Table(ref.Table)
	if !ok {
		return semantic.Column{}, &Error{Kind: KindExistence, Element: ref.Table, Detail: "table is not declared in the semantic model"}
	}
	col, ok := table.Column(ref.Column)
	if !ok {
		return semantic.Column{}, &Error{Kind: KindExistence, Element: ref.Table + "." + ref.Column, Detail: "column is not declared in the semantic model"}
	}
	return col, nil
}

func (c *checker) checkExistence() *Error {
	if _, ok := c.model.Table(c.plan.From); !ok {
		return &Error{Kind: KindExistence, Element: c.plan.From, Detail: "FROM table is not declared in the semantic model"}
	}
	scope := c.scope()

	inScope := func(element, table string) *Error {
		if !scope[table] {
			return &Error{Kind: KindExistence, Element: element, Detail: fmt.Sprintf("table %q is not joined into the query", table)}
		}
		return nil
	}

	if len(c.plan.Select) == 0 {
		return &Error{Kind: KindExistence, Element: "select", Detail: "plan selects nothing"}
	}
	for _, item := range c.plan.Select {
		switch {
		case item.Column != nil:
			if _, err := c.column(*item.Column); err != nil {
				return err
			}
			if err := inScope(item.Alias, item.Column.Table); err != nil {
				return err
			}
		case item.Metric != nil:
			if err := c.checkMetricRef(*item.Metric); err != nil {
				return err
			}
			if err := inScope(item.Alias, item.Metric.Table); err != nil {
				return err
			}
		default:
			return &Error{Kind: KindExistence, Element: item.Alias, Detail: "select item names neither a column nor a metric"}
		}
	}
	for _, ref := range c.plan.GroupBy {
		if _, err := c.column(ref); err != nil {
			return err
		}
		if err := inScope(ref.Table+"."+ref.Column, ref.Table); err != nil {
			return err
		}
	}
	for _, pred := range c.plan.Where {
		if _, err := c.column(plan.ColumnRef{Table: pred.Table, Column: pred.Column}); err != nil {
			return err
		}
		if err := inScope(pred.Table+"."+pred.Column, pred.Table); err != nil {
			return err
		}
	}
	aliases := map[string]bool{}
	for _, item := range c.plan.Select {
		aliases[item.Alias] = true
	}
	for _, order := range c.plan.OrderBy {
		if order.Alias != "" && !aliases[order.Alias] {
			return &Error{Kind: KindExistence, Element: order.Alias, Detail: "ORDER BY references an alias the query does not select"}
		}
		if order.Alias == "" && order.Ref != nil {
			if _, err := c.column(*order.Ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *checker) checkMetricRef(ref plan.MetricRef) *Error {
	table, ok := c.model.Table(ref.Table)
	if !ok {
		return &Error{Kind: KindExistence, Element: ref.Table, Detail: "table is not declared in the semantic model"}
	}
	if ref.Metric != "" {
		metric, ok := table.Metric(ref.Metric)
		if !ok {
			return &Error{Kind: KindExistence, Element: ref.Table + "." + ref.Metric, Detail: "metric is not declared in the semantic model"}
		}
		if ref.Agg != "" && ref.Agg != metric.Agg {
			return &Error{Kind: KindExistence, Element: ref.Table + "." + ref.Metric, Detail: fmt.Sprintf("metric aggregates with %s, not %s", metric.Agg, ref.Agg)}
		}
		return nil
	}
	if !ref.Agg.Valid() {
		return &Error{Kind: KindExistence, Element: ref.Table + "." + ref.Column, Detail: fmt.Sprintf("unknown aggregation %q", ref.Agg)}
	}
	if ref.Agg == plan.AggCount && ref.Column == "" {
		return nil
	}
	col, ok := table.Column(ref.Column)
	if !ok {
		return &Error{Kind: KindExistence, Element: ref.Table + "." + ref.Column, Detail: "aggregated column is not declared in the semantic model"}
	}
	switch ref.Agg {
	case plan.AggSum, plan.AggAvg:
		if !col.Type.Numeric() {
			return &Error{Kind: KindAggregation, Element: ref.Table + "." + ref.Column, Detail: fmt.Sprintf("%s requires a numeric column, %s is %s", ref.Agg, ref.Column, col.Type)}
		}
	}
	return nil
}

// checkJoins verifies every join uses a declared relationship whose tables
// and keys match, and that each join attaches to a table already in scope.
func (c *checker) checkJoins() *Error {
	relByName := map[string]semantic.Relationship{}
	for _, rel := range c.model.Relationships {
		relByName[rel.Name] = rel
	}
	reached := map[string]bool{c.plan.From: true}
	for _, join := range c.plan.Joins {
		rel, ok := relByName[join.Relationship]
		if !ok {
			return &Error{Kind: KindJoin, Element: join.Relationship, Detail: "join does not correspond to a declared relationship"}
		}
		var anchor string
		switch join.Table {
		case rel.LeftTable:
			anchor = rel.RightTable
		case rel.RightTable:
			anchor = rel.LeftTable
		default:
			return &Error{Kind: KindJoin, Element: join.Relationship, Detail: fmt.Sprintf("relationship does not involve table %q", join.Table)}
		}
		if !reached[anchor] {
			return &Error{Kind: KindJoin, Element: join.Relationship, Detail: fmt.Sprintf("join to %q is not connected to the tables before it", join.Table)}
		}
		if len(join.Keys) == 0 {
			return &Error{Kind: KindCardinality, Element: join.Relationship, Detail: "join has no key equalities and would produce a cross product"}
		}
		for _, key := range join.Keys {
			if err := c.checkJoinKey(rel, join, key); err != nil {
				return err
			}
		}
		reached[join.Table] = true
	}
	return nil
}

func (c *checker) checkJoinKey(rel semantic.Relationship, join plan.Join, key plan.JoinKey) *Error {
	match := false
	for _, declared := range rel.JoinKeys {
		if declared.LeftColumn == key.LeftColumn && declared.RightColumn == key.RightColumn ||
			declared.LeftColumn == key.RightColumn && declared.RightColumn == key.LeftColumn {
			match = true
			break
		}
	}
	if !match {
		return &Error{Kind: KindJoin, Element: rel.Name, Detail: fmt.Sprintf("join key %s/%s is not declared on the relationship", key.LeftColumn, key.RightColumn)}
	}
	left, err := c.column(plan.ColumnRef{Table: key.LeftTable, Column: key.LeftColumn})
	if err != nil {
		return err
	}
	right, err := c.column(plan.ColumnRef{Table: join.Table, Column: key.RightColumn})
	if err != nil {
		return err
	}
	if left.Type != right.Type {
		return &Error{Kind: KindJoin, Element: rel.Name, Detail: fmt.Sprintf("join key types differ: %s vs %s", left.Type, right.Type)}
	}
	return nil
}

// checkAggregation enforces that aggregated and bare columns do not mix: in
// an aggregating plan every bare select column must be grouped, and every
// grouped column selected.
func (c *checker) checkAggregation() *Error {
	if !c.plan.HasAggregation() {
		if len(c.plan.GroupBy) > 0 {
			return &Error{Kind: KindAggregation, Element: "group_by", Detail: "plan groups rows but selects no aggregate"}
		}
		return nil
	}
	grouped := map[string]bool{}
	for _, ref := range c.plan.GroupBy {
		grouped[ref.Table+"."+ref.Column] = true
	}
	selected := map[string]bool{}
	for _, item := range c.plan.Select {
		if item.Column == nil {
			continue
		}
		key := item.Column.Table + "." + item.Column.Column
		selected[key] = true
		if !grouped[key] {
			return &Error{Kind: KindAggregation, Element: key, Detail: "column is selected alongside aggregates but not grouped"}
		}
	}
	for _, ref := range c.plan.GroupBy {
		if !selected[ref.Table+"."+ref.Column] {
			return &Error{Kind: KindAggregation, Element: ref.Table + "." + ref.Column, Detail: "column is grouped but not selected"}
		}
	}
	return nil
}

func (c *checker) checkFilterTypes() *Error {
	for _, pred := range c.plan.Where {
		col, err := c.column(plan.ColumnRef{Table: pred.Table, Column: pred.Column})
		if err != nil {
			return err
		}
		element := pred.Table + "." + pred.Column
		if !pred.Op.Valid() {
			return &Error{Kind: KindFilterType, Element: element, Detail: fmt.Sprintf("unknown operator %q", pred.Op)}
		}
		if want := pred.Op.ValueCount(); want >= 0 && len(pred.Values) != want {
			return &Error{Kind: KindFilterType, Element: element, Detail: fmt.Sprintf("operator %s takes %d value(s), got %d", pred.Op, want, len(pred.Values))}
		}
		switch pred.Op {
		case plan.OpLt, plan.OpLte, plan.OpGt, plan.OpGte, plan.OpBetween:
			if !col.Type.Numeric() && !col.Type.Temporal() {
				return &Error{Kind: KindFilterType, Element: element, Detail: fmt.Sprintf("operator %s needs an ordered type, %s is %s", pred.Op, pred.Column, col.Type)}
			}
		case plan.OpLike:
			if col.Type != semantic.TypeString {
				return &Error{Kind: KindFilterType, Element: element, Detail: fmt.Sprintf("LIKE needs a string column, %s is %s", pred.Column, col.Type)}
			}
		}
		for _, value := range pred.Values {
			if err := literalMatches(col.Type, value); err != nil {
				return &Error{Kind: KindFilterType, Element: element, Detail: err.Error()}
			}
		}
	}
	return nil
}

func literalMatches(colType semantic.DataType, lit plan.Literal) error {
	ok := false
	switch lit.Kind {
	case plan.LiteralString:
		ok = colType == semantic.TypeString
	case plan.LiteralNumber:
		ok = colType.Numeric()
		// Number literals are rendered into SQL unquoted, so anything
		// that is not actually a number must be rejected here.
		if _, err := strconv.ParseFloat(lit.Value, 64); err != nil {
			return fmt.Errorf("number literal %q is not a number", lit.Value)
		}
	case plan.LiteralBool:
		ok = colType == semantic.TypeBoolean
	case plan.LiteralDate:
		ok = colType.Temporal()
	}
	if !ok {
		return fmt.Errorf("literal kind %s does not match column type %s", lit.Kind, colType)
	}
	return nil
}

// checkCardinality rejects plans whose joins can multiply rows without any
// mitigation: a many-to-many join needs either aggregation or a row limit.
func (c *checker) checkCardinality() *Error {
	for _, join := range c.plan.Joins {
		for _, rel := range c.model.Relationships {
			if rel.Name != join.Relationship {
				continue
			}
			if rel.Cardinality == semantic.ManyToMany && !c.plan.HasAggregation() && c.plan.Limit <= 0 {
				return &Error{Kind: KindCardinality, Element: rel.Name, Detail: "many-to-many join without aggregation or a row limit can explode the result"}
			}
		}
	}
	return nil
}
