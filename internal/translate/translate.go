// Package translate turns a grounded question into a query plan. The LLM
// proposes the shape of the result (projection order, aliases, sorting, row
// limit) but only over entities the resolver already grounded; joins are
// assembled from the model's relationship graph and never taken from model
// output.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/semquery/semquery/internal/ground"
	"github.com/semquery/semquery/internal/llm"
	"github.com/semquery/semquery/internal/plan"
	"github.com/semquery/semquery/internal/semantic"
)

// ErrUnavailable reports that plan generation cannot proceed because the
// language model is unreachable. This is terminal for the turn: there is no
// deterministic fallback path to a plan.
var ErrUnavailable = errors.New("translate: plan generation unavailable")

// NoJoinPathError reports two referenced tables with no declared
// relationship path between them.
type NoJoinPathError struct {
	From string
	To   string
}

func (e *NoJoinPathError) Error() string {
	return fmt.Sprintf("no declared relationship path connects %q to %q", e.From, e.To)
}

// Translator builds query plans from grounded questions.
type Translator struct {
	completer llm.Completer
	logger    *slog.Logger
}

func NewTranslator(completer llm.Completer, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{completer: completer, logger: logger}
}

// shape is what the LLM is allowed to decide: which grounded entities to
// project in what order, how to label them, and how to sort and cap rows.
type shape struct {
	Select  []shapeItem  `json:"select"`
	OrderBy []shapeOrder `json:"order_by,omitempty"`
	Limit   int          `json:"limit,omitempty"`
}

type shapeItem struct {
	Kind  string `json:"kind"`
	Table string `json:"table"`
	Name  string `json:"name"`
	Alias string `json:"alias"`
}

type shapeOrder struct {
	Alias string `json:"alias"`
	Desc  bool   `json:"desc,omitempty"`
}

// Translate produces a plan for gir against model. feedback carries a prior
// validation failure during plan repair and is empty on the first attempt.
func (t *Translator) Translate(ctx context.Context, model *semantic.Model, gir ground.GIR, feedback string) (plan.Plan, error) {
	if len(gir.Metrics) == 0 && len(gir.Dimensions) == 0 {
		return plan.Plan{}, fmt.Errorf("translate: question grounded no metrics or dimensions")
	}
	if t.completer == nil {
		return plan.Plan{}, ErrUnavailable
	}

	sh, err := t.proposeShape(ctx, gir, feedback)
	if err != nil {
		return plan.Plan{}, err
	}
	return t.assemble(model, gir, sh)
}

func (t *Translator) proposeShape(ctx context.Context, gir ground.GIR, feedback string) (shape, error) {
	prompt := shapePrompt(gir, feedback)
	resp, err := t.completer.Complete(ctx, llm.Request{
		System:  "You lay out analytics query results. Project only the grounded entities you are given; joins and filters are handled elsewhere.",
		Prompt:  prompt,
		Grammar: shapeGrammar(gir),
	})
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			return shape{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return shape{}, fmt.Errorf("translate: shape proposal: %w", err)
	}
	var sh shape
	if err := json.Unmarshal(resp.Raw, &sh); err != nil {
		return shape{}, fmt.Errorf("translate: shape response: %w", err)
	}
	return sh, nil
}

func shapePrompt(gir ground.GIR, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nGrounded entities:\n", gir.Question)
	for _, m := range gir.Metrics {
		name := m.Metric
		if name == "" {
			name = string(m.Agg)
			if m.Column != "" {
				name += "_" + m.Column
			}
		}
		fmt.Fprintf(&b, "- metric %s.%s\n", m.Table, name)
	}
	for _, d := range gir.Dimensions {
		if d.Grain != "" {
			fmt.Fprintf(&b, "- dimension %s.%s at %s grain\n", d.Table, d.Column, d.Grain)
		} else {
			fmt.Fprintf(&b, "- dimension %s.%s\n", d.Table, d.Column)
		}
	}
	b.WriteString("\nPropose the result shape as JSON: {\"select\": [{\"kind\": \"metric\"|\"column\", \"table\": ..., \"name\": ..., \"alias\": ...}], \"order_by\": [{\"alias\": ..., \"desc\": true|false}], \"limit\": 0}. Every grounded entity must appear exactly once in select.")
	if gir.OrderDesc || gir.Limit > 0 {
		fmt.Fprintf(&b, "\nThe question asks for the top %d rows by the metric.", gir.Limit)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\n\nThe previous attempt was rejected: %s. Propose a corrected shape.", feedback)
	}
	return b.String()
}

// shapeGrammar confines the proposal to the grounded entity set: every
// select entry must name a grounded metric or dimension, every grounded
// entity must be covered, aliases must be unique, and order_by may only
// reference declared aliases.
func shapeGrammar(gir ground.GIR) llm.Grammar {
	type entity struct {
		kind string
		key  string
	}
	allowed := map[entity]bool{}
	for _, m := range gir.Metrics {
		name := m.Metric
		if name == "" {
			name = string(m.Agg)
			if m.Column != "" {
				name += "_" + m.Column
			}
		}
		allowed[entity{"metric", m.Table + "." + name}] = true
	}
	for _, d := range gir.Dimensions {
		allowed[entity{"column", d.Table + "." + d.Column}] = true
	}
	return llm.Grammar{
		Description: "JSON result shape covering every grounded entity exactly once",
		Check: func(raw json.RawMessage) error {
			var sh shape
			if err := json.Unmarshal(raw, &sh); err != nil {
				return &llm.GrammarError{Detail: "response is not a JSON shape object"}
			}
			if len(sh.Select) == 0 {
				return &llm.GrammarError{Detail: "select is empty"}
			}
			seen := map[entity]bool{}
			aliases := map[string]bool{}
			for _, item := range sh.Select {
				e := entity{item.Kind, item.Table + "." + item.Name}
				if !allowed[e] {
					return &llm.GrammarError{Detail: fmt.Sprintf("%s %s.%s is not a grounded entity", item.Kind, item.Table, item.Name)}
				}
				if seen[e] {
					return &llm.GrammarError{Detail: fmt.Sprintf("%s.%s appears more than once", item.Table, item.Name)}
				}
				seen[e] = true
				if item.Alias == "" {
					return &llm.GrammarError{Detail: fmt.Sprintf("%s.%s has no alias", item.Table, item.Name)}
				}
				if aliases[item.Alias] {
					return &llm.GrammarError{Detail: fmt.Sprintf("alias %q is used twice", item.Alias)}
				}
				aliases[item.Alias] = true
			}
			if len(seen) != len(allowed) {
				return &llm.GrammarError{Detail: "select must cover every grounded entity"}
			}
			for _, order := range sh.OrderBy {
				if !aliases[order.Alias] {
					return &llm.GrammarError{Detail: fmt.Sprintf("order_by alias %q is not selected", order.Alias)}
				}
			}
			if sh.Limit < 0 {
				return &llm.GrammarError{Detail: "limit must not be negative"}
			}
			return nil
		},
	}
}

// assemble builds the full plan from the grounded entities and the proposed
// shape. Joins come from relationship graph search over the model alone.
func (t *Translator) assemble(model *semantic.Model, gir ground.GIR, sh shape) (plan.Plan, error) {
	p := plan.Plan{}

	metricByKey := map[string]ground.MetricSel{}
	for _, m := range gir.Metrics {
		name := m.Metric
		if name == "" {
			name = string(m.Agg)
			if m.Column != "" {
				name += "_" + m.Column
			}
		}
		metricByKey[m.Table+"."+name] = m
	}
	dimByKey := map[string]ground.DimensionSel{}
	for _, d := range gir.Dimensions {
		dimByKey[d.Table+"."+d.Column] = d
	}

	for _, item := range sh.Select {
		key := item.Table + "." + item.Name
		switch item.Kind {
		case "metric":
			m := metricByKey[key]
			p.Select = append(p.Select, plan.SelectItem{
				Metric: &plan.MetricRef{Metric: m.Metric, Agg: m.Agg, Table: m.Table, Column: m.Column},
				Alias:  item.Alias,
			})
		case "column":
			d := dimByKey[key]
			p.Select = append(p.Select, plan.SelectItem{
				Column: &plan.ColumnRef{Table: d.Table, Column: d.Column, Grain: d.Grain},
				Alias:  item.Alias,
			})
		}
	}

	p.From = baseTable(gir)
	tables := append([]string{p.From}, gir.Tables()...)
	joins, err := buildJoins(model, tables)
	if err != nil {
		return plan.Plan{}, err
	}
	p.Joins = joins

	for _, f := range gir.Filters {
		p.Where = append(p.Where, plan.Predicate{Table: f.Table, Column: f.Column, Op: f.Op, Values: f.Values})
	}

	if len(gir.Metrics) > 0 {
		for _, d := range gir.Dimensions {
			p.GroupBy = append(p.GroupBy, plan.ColumnRef{Table: d.Table, Column: d.Column, Grain: d.Grain})
		}
	}

	for _, order := range sh.OrderBy {
		p.OrderBy = append(p.OrderBy, plan.OrderItem{Alias: order.Alias, Desc: order.Desc})
	}
	if len(p.OrderBy) == 0 && gir.OrderDesc {
		if alias, ok := firstMetricAlias(p); ok {
			p.OrderBy = []plan.OrderItem{{Alias: alias, Desc: true}}
		}
	}

	p.Limit = gir.Limit
	if p.Limit == 0 {
		p.Limit = sh.Limit
	}
	return p, nil
}

// baseTable picks the plan's FROM anchor: the first metric's table, since
// fact tables sit on the many side of the join graph, else the first
// dimension's table.
func baseTable(gir ground.GIR) string {
	if len(gir.Metrics) > 0 {
		return gir.Metrics[0].Table
	}
	return gir.Dimensions[0].Table
}

func buildJoins(model *semantic.Model, tables []string) ([]plan.Join, error) {
	graph := semantic.NewJoinGraph(model)
	edges, ok := graph.SpanningPath(tables)
	if !ok {
		return nil, unreachablePair(graph, tables)
	}
	joins := make([]plan.Join, 0, len(edges))
	for _, edge := range edges {
		join := plan.Join{Relationship: edge.Relationship.Name, Table: edge.To}
		for _, key := range edge.Relationship.JoinKeys {
			if edge.Reversed {
				join.Keys = append(join.Keys, plan.JoinKey{LeftTable: edge.From, LeftColumn: key.RightColumn, RightColumn: key.LeftColumn})
			} else {
				join.Keys = append(join.Keys, plan.JoinKey{LeftTable: edge.From, LeftColumn: key.LeftColumn, RightColumn: key.RightColumn})
			}
		}
		joins = append(joins, join)
	}
	return joins, nil
}

// unreachablePair names the first disconnected table pair for the error.
func unreachablePair(graph *semantic.JoinGraph, tables []string) error {
	for _, target := range tables[1:] {
		if _, ok := graph.Path(tables[0], target); !ok {
			return &NoJoinPathError{From: tables[0], To: target}
		}
	}
	return &NoJoinPathError{From: tables[0], To: tables[len(tables)-1]}
}

func firstMetricAlias(p plan.Plan) (string, bool) {
	for _, item := range p.Select {
		if item.IsMetric() {
			return item.Alias, true
		}
	}
	return "", false
}
