package seed

import (
	"github.com/semquery/semquery/internal/plan"
	"github.com/semquery/semquery/internal/semantic"
)

// DemoModel builds the semantic model that describes the seeded dataset.
// Version carries a placeholder; publishing assigns the real number.
func DemoModel(name string) *semantic.Model {
	return &semantic.Model{
		Name:        name,
		Version:     1,
		Description: "Demo retail sales dataset seeded by semquery-seed.",
		Tables: []semantic.Table{
			{
				Name:         "orders",
				PhysicalName: "fact_orders",
				Description:  "One row per customer order.",
				Columns: []semantic.Column{
					{Name: "order_id", PhysicalName: "order_id", Type: semantic.TypeInteger},
					{Name: "customer_id", PhysicalName: "customer_id", Type: semantic.TypeInteger},
					{Name: "amount", PhysicalName: "amount_usd", Type: semantic.TypeDecimal, Description: "Order total in USD.", Synonyms: []string{"revenue", "sales"}},
					{Name: "status", PhysicalName: "status", Type: semantic.TypeString, SampleValues: []string{"placed", "shipped", "delivered", "returned"}},
					{Name: "order_date", PhysicalName: "order_date", Type: semantic.TypeDate},
				},
				Metrics: []semantic.Metric{
					{Name: "total_amount", Description: "Total order revenue.", Agg: plan.AggSum, Column: "amount", Type: semantic.TypeDecimal, Synonyms: []string{"total revenue"}},
					{Name: "order_count", Description: "Number of orders.", Agg: plan.AggCount, Column: "order_id", Type: semantic.TypeInteger},
					{Name: "avg_order_value", Agg: plan.AggAvg, Column: "amount", Type: semantic.TypeDecimal},
				},
			},
			{
				Name:         "customers",
				PhysicalName: "dim_customers",
				Description:  "One row per customer.",
				Columns: []semantic.Column{
					{Name: "customer_id", PhysicalName: "customer_id", Type: semantic.TypeInteger},
					{Name: "name", PhysicalName: "name", Type: semantic.TypeString},
					{Name: "region", PhysicalName: "region", Type: semantic.TypeString, SampleValues: []string{"west", "east", "north"}},
					{Name: "segment", PhysicalName: "segment", Type: semantic.TypeString, SampleValues: []string{"consumer", "corporate", "home_office"}},
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
		VerifiedQueries: []semantic.VerifiedQuery{
			{
				Name:     "revenue_by_region",
				Question: "which region brought the most revenue",
				Plan: plan.Plan{
					From: "orders",
					Select: []plan.SelectItem{
						{Column: &plan.ColumnRef{Table: "customers", Column: "region"}, Alias: "region"},
						{Metric: &plan.MetricRef{Metric: "total_amount", Agg: plan.AggSum, Table: "orders", Column: "amount"}, Alias: "total_amount"},
					},
					GroupBy: []plan.ColumnRef{{Table: "customers", Column: "region"}},
					OrderBy: []plan.OrderItem{{Alias: "total_amount", Desc: true}},
				},
			},
			{
				Name:     "orders_by_status",
				Question: "how many orders are in each status",
				Plan: plan.Plan{
					From: "orders",
					Select: []plan.SelectItem{
						{Column: &plan.ColumnRef{Table: "orders", Column: "status"}, Alias: "status"},
						{Metric: &plan.MetricRef{Metric: "order_count", Agg: plan.AggCount, Table: "orders", Column: "order_id"}, Alias: "order_count"},
					},
					GroupBy: []plan.ColumnRef{{Table: "orders", Column: "status"}},
				},
			},
		},
	}
}
