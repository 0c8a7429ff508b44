package plan

import (
	"fmt"
	"strconv"
	"strings"
)

type Dialect string

const (
	DialectDuckDB   Dialect = "duckdb"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) Valid() bool {
	switch d {
	case DialectDuckDB, DialectPostgres:
		return true
	default:
		return false
	}
}

// Renderer turns a plan into executable SQL text. Table and column names are
// resolved to physical identifiers through the resolve callback so the plan
// itself never carries physical names.
type Renderer struct {
	Dialect Dialect

	// PhysicalTable maps a logical table name to its physical identifier.
	// When nil, logical names are rendered directly.
	PhysicalTable func(table string) string

	// PhysicalColumn maps a logical column to its physical identifier.
	PhysicalColumn func(table, column string) string

	// RedactLiterals replaces every literal with a placeholder. Used when a
	// plan is rendered for error reporting rather than execution.
	RedactLiterals bool
}

func (r Renderer) Render(p Plan) (string, error) {
	if len(p.Select) == 0 {
		return "", fmt.Errorf("plan has no select items")
	}
	if p.From == "" {
		return "", fmt.Errorf("plan has no base table")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	for i, item := range p.Select {
		if i > 0 {
			b.WriteString(", ")
		}
		expr, err := r.renderSelectItem(item)
		if err != nil {
			return "", err
		}
		b.WriteString(expr)
		if item.Alias != "" {
			b.WriteString(" AS " + quoteIdent(item.Alias))
		}
	}

	b.WriteString(" FROM " + r.tableExpr(p.From))
	for _, join := range p.Joins {
		if len(join.Keys) == 0 {
			return "", fmt.Errorf("join to %q has no keys", join.Table)
		}
		b.WriteString(" JOIN " + r.tableExpr(join.Table) + " ON ")
		for i, key := range join.Keys {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString(r.columnExpr(key.LeftTable, key.LeftColumn))
			b.WriteString(" = ")
			b.WriteString(r.columnExpr(join.Table, key.RightColumn))
		}
	}

	if len(p.Where) > 0 {
		b.WriteString(" WHERE ")
		for i, pred := range p.Where {
			if i > 0 {
				b.WriteString(" AND ")
			}
			expr, err := r.renderPredicate(pred)
			if err != nil {
				return "", err
			}
			b.WriteString(expr)
		}
	}

	if len(p.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, ref := range p.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.dimensionExpr(ref))
		}
	}

	if len(p.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, item := range p.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			switch {
			case item.Alias != "":
				b.WriteString(quoteIdent(item.Alias))
			case item.Ref != nil:
				b.WriteString(r.dimensionExpr(*item.Ref))
			default:
				return "", fmt.Errorf("order item %d has no target", i)
			}
			if item.Desc {
				b.WriteString(" DESC")
			}
		}
	}

	if p.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(p.Limit))
	}

	return b.String(), nil
}

func (r Renderer) renderSelectItem(item SelectItem) (string, error) {
	switch {
	case item.Metric != nil && item.Column != nil:
		return "", fmt.Errorf("select item has both metric and column")
	case item.Metric != nil:
		return r.metricExpr(*item.Metric)
	case item.Column != nil:
		return r.dimensionExpr(*item.Column), nil
	default:
		return "", fmt.Errorf("empty select item")
	}
}

func (r Renderer) metricExpr(m MetricRef) (string, error) {
	if m.Agg == AggCount && m.Column == "" {
		return "COUNT(*)", nil
	}
	if m.Column == "" {
		return "", fmt.Errorf("aggregation %q requires a column", m.Agg)
	}
	operand := r.columnExpr(m.Table, m.Column)
	switch m.Agg {
	case AggSum:
		return "SUM(" + operand + ")", nil
	case AggCount:
		return "COUNT(" + operand + ")", nil
	case AggCountDistinct:
		return "COUNT(DISTINCT " + operand + ")", nil
	case AggAvg:
		return "AVG(" + operand + ")", nil
	case AggMin:
		return "MIN(" + operand + ")", nil
	case AggMax:
		return "MAX(" + operand + ")", nil
	default:
		return "", fmt.Errorf("unknown aggregation %q", m.Agg)
	}
}

func (r Renderer) dimensionExpr(ref ColumnRef) string {
	expr := r.columnExpr(ref.Table, ref.Column)
	if ref.Grain != GrainNone {
		expr = "DATE_TRUNC('" + string(ref.Grain) + "', " + expr + ")"
	}
	return expr
}

func (r Renderer) renderPredicate(pred Predicate) (string, error) {
	column := r.columnExpr(pred.Table, pred.Column)
	switch pred.Op {
	case OpIsNull:
		return column + " IS NULL", nil
	case OpIsNotNull:
		return column + " IS NOT NULL", nil
	}

	if want := pred.Op.ValueCount(); want >= 0 && len(pred.Values) != want {
		return "", fmt.Errorf("operator %q expects %d values, got %d", pred.Op, want, len(pred.Values))
	}
	if len(pred.Values) == 0 {
		return "", fmt.Errorf("operator %q expects at least one value", pred.Op)
	}

	switch pred.Op {
	case OpEq:
		return column + " = " + r.literal(pred.Values[0]), nil
	case OpNeq:
		return column + " <> " + r.literal(pred.Values[0]), nil
	case OpLt:
		return column + " < " + r.literal(pred.Values[0]), nil
	case OpLte:
		return column + " <= " + r.literal(pred.Values[0]), nil
	case OpGt:
		return column + " > " + r.literal(pred.Values[0]), nil
	case OpGte:
		return column + " >= " + r.literal(pred.Values[0]), nil
	case OpLike:
		return column + " LIKE " + r.literal(pred.Values[0]), nil
	case OpBetween:
		return column + " BETWEEN " + r.literal(pred.Values[0]) + " AND " + r.literal(pred.Values[1]), nil
	case OpIn:
		values := make([]string, 0, len(pred.Values))
		for _, value := range pred.Values {
			values = append(values, r.literal(value))
		}
		return column + " IN (" + strings.Join(values, ", ") + ")", nil
	default:
		return "", fmt.Errorf("unknown operator %q", pred.Op)
	}
}

func (r Renderer) tableExpr(table string) string {
	physical := table
	if r.PhysicalTable != nil {
		physical = r.PhysicalTable(table)
	}
	if physical == table {
		return quoteIdent(physical)
	}
	return quoteIdent(physical) + " AS " + quoteIdent(table)
}

func (r Renderer) columnExpr(table, column string) string {
	physical := column
	if r.PhysicalColumn != nil {
		physical = r.PhysicalColumn(table, column)
	}
	return quoteIdent(table) + "." + quoteIdent(physical)
}

func (r Renderer) literal(value Literal) string {
	if r.RedactLiterals {
		return "?"
	}
	switch value.Kind {
	case LiteralNumber:
		return value.Value
	case LiteralBool:
		if strings.EqualFold(value.Value, "true") {
			return "TRUE"
		}
		return "FALSE"
	case LiteralDate:
		return "DATE " + quoteString(value.Value)
	default:
		return quoteString(value.Value)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
