package semantic

import (
	"bytes"
	"strings"
	"testing"

	"github.com/semquery/semquery/internal/plan"
)

func salesModel() *Model {
	return &Model{
		Name:    "sales",
		Version: 1,
		Tables: []Table{
			{
				Name:         "orders",
				PhysicalName: "public.fact_orders",
				Columns: []Column{
					{Name: "customer_id", PhysicalName: "customer_id", Type: TypeInteger},
					{Name: "amount", PhysicalName: "amount_usd", Type: TypeDecimal, Synonyms: []string{"revenue", "sales"}},
					{Name: "order_date", PhysicalName: "order_date", Type: TypeDate},
				},
				Metrics: []Metric{
					{Name: "total_amount", Agg: plan.AggSum, Column: "amount", Type: TypeDecimal, Synonyms: []string{"total sales"}},
				},
			},
			{
				Name:         "customers",
				PhysicalName: "public.dim_customers",
				Columns: []Column{
					{Name: "customer_id", PhysicalName: "customer_id", Type: TypeInteger},
					{Name: "region", PhysicalName: "region", Type: TypeString, Synonyms: []string{"area"}},
				},
			},
		},
		Relationships: []Relationship{
			{
				Name:        "orders_customers",
				LeftTable:   "orders",
				RightTable:  "customers",
				Cardinality: OneToMany,
				JoinKeys:    []JoinKey{{LeftColumn: "customer_id", RightColumn: "customer_id"}},
			},
		},
	}
}

func TestValidateAcceptsWellFormedModel(t *testing.T) {
	if err := salesModel().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsDuplicateLogicalNames(t *testing.T) {
	model := salesModel()
	model.Tables[0].Columns = append(model.Tables[0].Columns, Column{
		Name: "amount", PhysicalName: "amount_dup", Type: TypeDecimal,
	})
	if err := model.Validate(); err == nil {
		t.Fatal("Validate() accepted duplicate column name")
	}
}

func TestValidateRejectsMetricOverUnknownColumn(t *testing.T) {
	model := salesModel()
	model.Tables[0].Metrics[0].Column = "discount"
	if err := model.Validate(); err == nil {
		t.Fatal("Validate() accepted metric over unknown column")
	}
}

func TestValidateRejectsRelationshipWithMissingKey(t *testing.T) {
	model := salesModel()
	model.Relationships[0].JoinKeys[0].RightColumn = "missing"
	if err := model.Validate(); err == nil {
		t.Fatal("Validate() accepted relationship with missing join key")
	}
}

func TestValidateRejectsIncompatibleJoinKeyTypes(t *testing.T) {
	model := salesModel()
	model.Tables[1].Columns[0].Type = TypeString
	if err := model.Validate(); err == nil {
		t.Fatal("Validate() accepted incompatible join key types")
	}
}

func TestValidateRejectsVerifiedQueryAgainstUnknownTable(t *testing.T) {
	model := salesModel()
	model.VerifiedQueries = []VerifiedQuery{{
		Question: "total amount by product",
		Plan:     plan.Plan{Select: []plan.SelectItem{{Column: &plan.ColumnRef{Table: "products", Column: "name"}}}, From: "products"},
	}}
	if err := model.Validate(); err == nil {
		t.Fatal("Validate() accepted verified query over unknown table")
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	model := salesModel()
	model.VerifiedQueries = []VerifiedQuery{{
		Question: "total amount by region",
		Plan: plan.Plan{
			Select: []plan.SelectItem{
				{Column: &plan.ColumnRef{Table: "customers", Column: "region"}, Alias: "region"},
				{Metric: &plan.MetricRef{Metric: "total_amount", Agg: plan.AggSum, Table: "orders", Column: "amount"}, Alias: "total_amount"},
			},
			From: "orders",
			Joins: []plan.Join{{
				Relationship: "orders_customers",
				Table:        "customers",
				Keys:         []plan.JoinKey{{LeftTable: "orders", LeftColumn: "customer_id", RightColumn: "customer_id"}},
			}},
			GroupBy: []plan.ColumnRef{{Table: "customers", Column: "region"}},
		},
	}}

	first, err := Serialize(model)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	loaded, err := Load(bytes.NewReader(first))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	second, err := Serialize(loaded)
	if err != nil {
		t.Fatalf("Serialize() after Load() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("round trip changed artifact:\n%s\n---\n%s", first, second)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	artifact := `
name: sales
version: 1
tables:
  - name: orders
    physical_name: public.orders
    columns:
      - name: amount
        physical_name: amount
        type: decimal
manifest: unexpected
`
	if _, err := Load(strings.NewReader(artifact)); err == nil {
		t.Fatal("Load() accepted artifact with unknown field")
	}
}

func TestJoinGraphPath(t *testing.T) {
	graph := NewJoinGraph(salesModel())

	path, ok := graph.Path("orders", "customers")
	if !ok {
		t.Fatal("Path() found no path between related tables")
	}
	if len(path) != 1 || path[0].Relationship.Name != "orders_customers" {
		t.Fatalf("Path() = %+v", path)
	}

	reverse, ok := graph.Path("customers", "orders")
	if !ok || !reverse[0].Reversed {
		t.Fatalf("Path() reverse = %+v, ok = %v", reverse, ok)
	}
}

func TestJoinGraphNoPath(t *testing.T) {
	model := salesModel()
	model.Tables = append(model.Tables, Table{
		Name:         "products",
		PhysicalName: "public.dim_products",
		Columns:      []Column{{Name: "product_id", PhysicalName: "product_id", Type: TypeInteger}},
	})
	graph := NewJoinGraph(model)
	if _, ok := graph.Path("orders", "products"); ok {
		t.Fatal("Path() invented a path for unrelated tables")
	}
	if _, ok := graph.SpanningPath([]string{"orders", "customers", "products"}); ok {
		t.Fatal("SpanningPath() invented a path for unrelated tables")
	}
}

func TestJoinGraphSpanningPathIsDeterministic(t *testing.T) {
	model := salesModel()
	graph := NewJoinGraph(model)
	first, ok := graph.SpanningPath([]string{"orders", "customers"})
	if !ok {
		t.Fatal("SpanningPath() found no path")
	}
	for i := 0; i < 10; i++ {
		again, ok := graph.SpanningPath([]string{"orders", "customers"})
		if !ok || len(again) != len(first) {
			t.Fatalf("SpanningPath() unstable: %+v vs %+v", again, first)
		}
		for j := range again {
			if again[j].To != first[j].To || again[j].From != first[j].From {
				t.Fatalf("SpanningPath() unstable at %d: %+v vs %+v", j, again[j], first[j])
			}
		}
	}
}

func TestMetricReturnType(t *testing.T) {
	model := salesModel()
	got, ok := model.MetricReturnType(plan.MetricRef{Metric: "total_amount", Agg: plan.AggSum, Table: "orders", Column: "amount"})
	if !ok || got != TypeDecimal {
		t.Fatalf("MetricReturnType() = %q, ok = %v", got, ok)
	}
	got, ok = model.MetricReturnType(plan.MetricRef{Agg: plan.AggCount, Table: "orders"})
	if !ok || got != TypeInteger {
		t.Fatalf("MetricReturnType() count = %q, ok = %v", got, ok)
	}
}
