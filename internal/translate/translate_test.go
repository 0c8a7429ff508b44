package translate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/semquery/semquery/internal/ground"
	"github.com/semquery/semquery/internal/llm"
	"github.com/semquery/semquery/internal/plan"
	"github.com/semquery/semquery/internal/semantic"
)

func salesModel() *semantic.Model {
	return &semantic.Model{
		Name:    "sales",
		Version: 1,
		Tables: []semantic.Table{
			{
				Name:         "orders",
				PhysicalName: "fact_orders",
				Columns: []semantic.Column{
					{Name: "customer_id", PhysicalName: "customer_id", Type: semantic.TypeInteger},
					{Name: "amount", PhysicalName: "amount", Type: semantic.TypeDecimal},
					{Name: "order_date", PhysicalName: "order_date", Type: semantic.TypeDate},
				},
				Metrics: []semantic.Metric{
					{Name: "total_amount", Agg: plan.AggSum, Column: "amount", Type: semantic.TypeDecimal},
				},
			},
			{
				Name:         "customers",
				PhysicalName: "dim_customers",
				Columns: []semantic.Column{
					{Name: "customer_id", PhysicalName: "customer_id", Type: semantic.TypeInteger},
					{Name: "region", PhysicalName: "region", Type: semantic.TypeString},
				},
			},
			{
				Name:         "products",
				PhysicalName: "dim_products",
				Columns: []semantic.Column{
					{Name: "product_id", PhysicalName: "product_id", Type: semantic.TypeInteger},
				},
			},
		},
		Relationships: []semantic.Relationship{
			{
				Name:        "orders_customers",
				LeftTable:   "orders",
				RightTable:  "customers",
				Cardinality: semantic.OneToMany,
				JoinKeys:    []semantic.JoinKey{{LeftColumn: "customer_id", RightColumn: "customer_id"}},
			},
		},
	}
}

func revenueByRegion() ground.GIR {
	return ground.GIR{
		Question: "total amount by region",
		Metrics:  []ground.MetricSel{{Metric: "total_amount", Agg: plan.AggSum, Table: "orders", Column: "amount"}},
		Dimensions: []ground.DimensionSel{
			{Table: "customers", Column: "region"},
		},
	}
}

type fakeCompleter struct {
	responses []string
	err       error
	prompts   []string
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return llm.Response{}, f.err
	}
	raw := json.RawMessage(f.responses[0])
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	if err := llm.CheckGrammar(req.Grammar, raw); err != nil {
		return llm.Response{}, err
	}
	return llm.Response{Raw: raw, Provider: "fake", Model: "fake-1"}, nil
}

const regionShape = `{
	"select": [
		{"kind": "column", "table": "customers", "name": "region", "alias": "region"},
		{"kind": "metric", "table": "orders", "name": "total_amount", "alias": "total_amount"}
	],
	"order_by": [{"alias": "total_amount", "desc": true}]
}`

func TestTranslateAggregateQuestion(t *testing.T) {
	tr := NewTranslator(&fakeCompleter{responses: []string{regionShape}}, nil)
	p, err := tr.Translate(context.Background(), salesModel(), revenueByRegion(), "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if p.From != "orders" {
		t.Fatalf("from = %q, want orders", p.From)
	}
	if len(p.Select) != 2 || p.Select[0].Column == nil || p.Select[1].Metric == nil {
		t.Fatalf("select = %+v, want region then total_amount", p.Select)
	}
	if len(p.Joins) != 1 {
		t.Fatalf("joins = %+v, want one", p.Joins)
	}
	join := p.Joins[0]
	if join.Relationship != "orders_customers" || join.Table != "customers" {
		t.Fatalf("join = %+v, want orders_customers to customers", join)
	}
	if len(join.Keys) != 1 || join.Keys[0].LeftTable != "orders" || join.Keys[0].LeftColumn != "customer_id" {
		t.Fatalf("join keys = %+v, want orders.customer_id", join.Keys)
	}
	if len(p.GroupBy) != 1 || p.GroupBy[0].Column != "region" {
		t.Fatalf("group by = %+v, want region", p.GroupBy)
	}
	if len(p.OrderBy) != 1 || p.OrderBy[0].Alias != "total_amount" || !p.OrderBy[0].Desc {
		t.Fatalf("order by = %+v, want total_amount desc", p.OrderBy)
	}
}

func TestTranslateCarriesGrainAndFilters(t *testing.T) {
	gir := revenueByRegion()
	gir.Dimensions = []ground.DimensionSel{{Table: "orders", Column: "order_date", Grain: plan.GrainMonth}}
	gir.Filters = []ground.FilterSel{
		{Table: "customers", Column: "region", Op: plan.OpEq, Values: []plan.Literal{{Kind: plan.LiteralString, Value: "emea"}}},
	}
	shape := `{
		"select": [
			{"kind": "column", "table": "orders", "name": "order_date", "alias": "month"},
			{"kind": "metric", "table": "orders", "name": "total_amount", "alias": "total_amount"}
		]
	}`
	tr := NewTranslator(&fakeCompleter{responses: []string{shape}}, nil)
	p, err := tr.Translate(context.Background(), salesModel(), gir, "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if p.Select[0].Column.Grain != plan.GrainMonth {
		t.Fatalf("select grain = %q, want month", p.Select[0].Column.Grain)
	}
	if len(p.GroupBy) != 1 || p.GroupBy[0].Grain != plan.GrainMonth {
		t.Fatalf("group by = %+v, want order_date at month grain", p.GroupBy)
	}
	if len(p.Where) != 1 || p.Where[0].Column != "region" {
		t.Fatalf("where = %+v, want region filter", p.Where)
	}
	// The filter's table still joins in even though nothing selects from it.
	if len(p.Joins) != 1 || p.Joins[0].Table != "customers" {
		t.Fatalf("joins = %+v, want customers joined for the filter", p.Joins)
	}
}

func TestTranslateRejectsHallucinatedEntity(t *testing.T) {
	shape := `{
		"select": [
			{"kind": "column", "table": "customers", "name": "segment", "alias": "segment"},
			{"kind": "metric", "table": "orders", "name": "total_amount", "alias": "total_amount"}
		]
	}`
	tr := NewTranslator(&fakeCompleter{responses: []string{shape}}, nil)
	_, err := tr.Translate(context.Background(), salesModel(), revenueByRegion(), "")
	var grammarErr *llm.GrammarError
	if !errors.As(err, &grammarErr) {
		t.Fatalf("err = %v, want GrammarError for ungrounded entity", err)
	}
}

func TestTranslateUnavailable(t *testing.T) {
	tr := NewTranslator(&fakeCompleter{err: llm.ErrUnavailable}, nil)
	_, err := tr.Translate(context.Background(), salesModel(), revenueByRegion(), "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}

	tr = NewTranslator(nil, nil)
	if _, err := tr.Translate(context.Background(), salesModel(), revenueByRegion(), ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable without a completer", err)
	}
}

func TestTranslateNoJoinPath(t *testing.T) {
	gir := revenueByRegion()
	gir.Dimensions = []ground.DimensionSel{{Table: "products", Column: "product_id"}}
	shape := `{
		"select": [
			{"kind": "column", "table": "products", "name": "product_id", "alias": "product_id"},
			{"kind": "metric", "table": "orders", "name": "total_amount", "alias": "total_amount"}
		]
	}`
	tr := NewTranslator(&fakeCompleter{responses: []string{shape}}, nil)
	_, err := tr.Translate(context.Background(), salesModel(), gir, "")
	var noPath *NoJoinPathError
	if !errors.As(err, &noPath) {
		t.Fatalf("err = %v, want NoJoinPathError", err)
	}
	if noPath.From != "orders" || noPath.To != "products" {
		t.Fatalf("pair = %s/%s, want orders/products", noPath.From, noPath.To)
	}
}

func TestTranslateRepairFeedbackInPrompt(t *testing.T) {
	completer := &fakeCompleter{responses: []string{regionShape}}
	tr := NewTranslator(completer, nil)
	feedback := "aggregation: customers.region: column is selected alongside aggregates but not grouped"
	if _, err := tr.Translate(context.Background(), salesModel(), revenueByRegion(), feedback); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(completer.prompts) != 1 || !strings.Contains(completer.prompts[0], feedback) {
		t.Fatalf("prompt does not carry repair feedback: %q", completer.prompts)
	}
}
