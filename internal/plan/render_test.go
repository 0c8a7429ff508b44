package plan

import (
	"strings"
	"testing"
)

func TestRenderAggregateJoinPlan(t *testing.T) {
	p := Plan{
		Select: []SelectItem{
			{Column: &ColumnRef{Table: "customers", Column: "region"}, Alias: "region"},
			{Metric: &MetricRef{Agg: AggSum, Table: "orders", Column: "amount"}, Alias: "total_amount"},
		},
		From: "orders",
		Joins: []Join{
			{
				Relationship: "orders_customers",
				Table:        "customers",
				Keys:         []JoinKey{{LeftTable: "orders", LeftColumn: "customer_id", RightColumn: "customer_id"}},
			},
		},
		GroupBy: []ColumnRef{{Table: "customers", Column: "region"}},
		OrderBy: []OrderItem{{Alias: "total_amount", Desc: true}},
		Limit:   100,
	}

	sql, err := Renderer{Dialect: DialectDuckDB}.Render(p)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := `SELECT "customers"."region" AS "region", SUM("orders"."amount") AS "total_amount" ` +
		`FROM "orders" JOIN "customers" ON "orders"."customer_id" = "customers"."customer_id" ` +
		`GROUP BY "customers"."region" ORDER BY "total_amount" DESC LIMIT 100`
	if sql != want {
		t.Fatalf("Render() = %q, want %q", sql, want)
	}
}

func TestRenderPhysicalNameMapping(t *testing.T) {
	p := Plan{
		Select: []SelectItem{{Column: &ColumnRef{Table: "orders", Column: "amount"}}},
		From:   "orders",
	}
	r := Renderer{
		Dialect:        DialectDuckDB,
		PhysicalTable:  func(string) string { return "fact_orders_v2" },
		PhysicalColumn: func(_, column string) string { return "raw_" + column },
	}
	sql, err := r.Render(p)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := `SELECT "orders"."raw_amount" FROM "fact_orders_v2" AS "orders"`
	if sql != want {
		t.Fatalf("Render() = %q, want %q", sql, want)
	}
}

func TestRenderTimeGrainDimension(t *testing.T) {
	p := Plan{
		Select: []SelectItem{
			{Column: &ColumnRef{Table: "orders", Column: "order_date", Grain: GrainMonth}, Alias: "month"},
			{Metric: &MetricRef{Agg: AggSum, Table: "orders", Column: "amount"}},
		},
		From:    "orders",
		GroupBy: []ColumnRef{{Table: "orders", Column: "order_date", Grain: GrainMonth}},
	}
	sql, err := Renderer{Dialect: DialectDuckDB}.Render(p)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(sql, `DATE_TRUNC('month', "orders"."order_date")`) {
		t.Fatalf("Render() = %q, missing DATE_TRUNC", sql)
	}
}

func TestRenderPredicates(t *testing.T) {
	p := Plan{
		Select: []SelectItem{{Metric: &MetricRef{Agg: AggCount, Table: "orders"}}},
		From:   "orders",
		Where: []Predicate{
			{Table: "orders", Column: "region", Op: OpIn, Values: []Literal{
				{Kind: LiteralString, Value: "north"},
				{Kind: LiteralString, Value: "south"},
			}},
			{Table: "orders", Column: "order_date", Op: OpBetween, Values: []Literal{
				{Kind: LiteralDate, Value: "2024-01-01"},
				{Kind: LiteralDate, Value: "2024-12-31"},
			}},
			{Table: "orders", Column: "amount", Op: OpGt, Values: []Literal{{Kind: LiteralNumber, Value: "10"}}},
		},
	}
	sql, err := Renderer{Dialect: DialectDuckDB}.Render(p)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := `SELECT COUNT(*) FROM "orders" WHERE "orders"."region" IN ('north', 'south') ` +
		`AND "orders"."order_date" BETWEEN DATE '2024-01-01' AND DATE '2024-12-31' AND "orders"."amount" > 10`
	if sql != want {
		t.Fatalf("Render() = %q, want %q", sql, want)
	}
}

func TestRenderRedactsLiterals(t *testing.T) {
	p := Plan{
		Select: []SelectItem{{Column: &ColumnRef{Table: "orders", Column: "amount"}}},
		From:   "orders",
		Where: []Predicate{
			{Table: "orders", Column: "region", Op: OpEq, Values: []Literal{{Kind: LiteralString, Value: "emea"}}},
		},
	}
	sql, err := Renderer{Dialect: DialectDuckDB, RedactLiterals: true}.Render(p)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(sql, "emea") {
		t.Fatalf("Render() leaked literal: %q", sql)
	}
	if !strings.Contains(sql, `"orders"."region" = ?`) {
		t.Fatalf("Render() = %q, missing placeholder", sql)
	}
}

func TestRenderRejectsMalformedPlans(t *testing.T) {
	if _, err := (Renderer{}).Render(Plan{From: "orders"}); err == nil {
		t.Fatal("Render() accepted plan without select items")
	}
	p := Plan{
		Select: []SelectItem{{Column: &ColumnRef{Table: "orders", Column: "amount"}}},
		From:   "orders",
		Joins:  []Join{{Table: "customers"}},
	}
	if _, err := (Renderer{}).Render(p); err == nil {
		t.Fatal("Render() accepted join without keys")
	}
}

func TestQuoteIdentEscapesQuotes(t *testing.T) {
	got := quoteIdent(`or"ders`)
	if got != `"or""ders"` {
		t.Fatalf("quoteIdent() = %q", got)
	}
}
