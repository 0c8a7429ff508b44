package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/semquery/semquery/internal/exec"
	"github.com/semquery/semquery/internal/ground"
	"github.com/semquery/semquery/internal/llm"
	"github.com/semquery/semquery/internal/plan"
	"github.com/semquery/semquery/internal/semantic"
	"github.com/semquery/semquery/internal/session"
	"github.com/semquery/semquery/internal/translate"
	"github.com/semquery/semquery/internal/validate"
)

func salesModel() *semantic.Model {
	return &semantic.Model{
		Name:    "sales",
		Version: 3,
		Tables: []semantic.Table{
			{
				Name:         "orders",
				PhysicalName: "fact_orders",
				Columns: []semantic.Column{
					{Name: "customer_id", PhysicalName: "customer_id", Type: semantic.TypeInteger},
					{Name: "amount", PhysicalName: "amount_usd", Type: semantic.TypeDecimal, Synonyms: []string{"revenue"}},
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
				},
			},
		},
	}
}

type fakeModels struct {
	model *semantic.Model
	err   error
}

func (f *fakeModels) Active() (*semantic.Model, error) { return f.model, f.err }

type fakeCompleter struct {
	responses []string
	prompts   []string
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.prompts = append(f.prompts, req.Prompt)
	raw := json.RawMessage(f.responses[0])
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	if err := llm.CheckGrammar(req.Grammar, raw); err != nil {
		return llm.Response{}, err
	}
	return llm.Response{Raw: raw, Provider: "fake", Model: "fake-1"}, nil
}

type fakeExecutor struct {
	result   exec.Result
	err      error
	requests []exec.Request
}

func (f *fakeExecutor) Execute(_ context.Context, request exec.Request) (exec.Result, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return exec.Result{}, f.err
	}
	return f.result, nil
}

type fakeFiles struct{}

func (fakeFiles) TableFiles(_ context.Context, modelName string, tables []string) ([]exec.TableFile, error) {
	files := make([]exec.TableFile, 0, len(tables))
	for _, table := range tables {
		files = append(files, exec.TableFile{
			TableName:     table,
			ObjectPath:    "data/" + modelName + "/" + table + "/part-00000.parquet",
			FileSizeBytes: 1,
		})
	}
	return files, nil
}

const regionShape = `{
	"select": [
		{"kind": "column", "table": "customers", "name": "region", "alias": "region"},
		{"kind": "metric", "table": "orders", "name": "total_amount", "alias": "total_amount"}
	]
}`

const monthShape = `{
	"select": [
		{"kind": "column", "table": "orders", "name": "order_date", "alias": "month"},
		{"kind": "metric", "table": "orders", "name": "total_amount", "alias": "total_amount"}
	]
}`

func newTestPipeline(model *semantic.Model, completer llm.Completer, executor exec.Executor, cfg Config) *Pipeline {
	return New(
		&fakeModels{model: model},
		ground.NewResolver(nil, nil, ground.Config{}),
		translate.NewTranslator(completer, nil),
		exec.NewGuard(executor, fakeFiles{}, nil, exec.GuardConfig{MaxAttempts: 1}),
		session.NewStore(8, time.Minute),
		nil,
		cfg,
	)
}

func TestAskAnswersQuestion(t *testing.T) {
	executor := &fakeExecutor{result: exec.Result{
		Columns: []string{"region", "total_amount"},
		Rows:    [][]any{{"emea", 1250.0}},
	}}
	p := newTestPipeline(salesModel(), &fakeCompleter{responses: []string{regionShape}}, executor, Config{})

	answer, err := p.Ask(context.Background(), "", "total amount by region")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.SessionID == "" {
		t.Fatal("answer has no session id")
	}
	if !strings.Contains(answer.SQL, "fact_orders") || !strings.Contains(answer.SQL, "SUM") {
		t.Fatalf("sql = %q, want physical table and aggregate", answer.SQL)
	}
	if len(answer.Rows) != 1 || answer.Rows[0][0] != "emea" {
		t.Fatalf("rows = %+v, want the executor result", answer.Rows)
	}
	if answer.Explanation == "" {
		t.Fatal("answer has no explanation")
	}
	want := []string{"which region brought the most revenue"}
	if len(answer.Suggestions) != 1 || answer.Suggestions[0] != want[0] {
		t.Fatalf("suggestions = %v, want %v", answer.Suggestions, want)
	}
	if len(executor.requests) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(executor.requests))
	}
	if len(executor.requests[0].Files) == 0 {
		t.Fatal("request carries no data files")
	}
}

func TestAskFollowUpInheritsMetric(t *testing.T) {
	executor := &fakeExecutor{result: exec.Result{Columns: []string{"x"}}}
	completer := &fakeCompleter{responses: []string{regionShape, monthShape}}
	p := newTestPipeline(salesModel(), completer, executor, Config{})

	first, err := p.Ask(context.Background(), "", "total amount by region")
	if err != nil {
		t.Fatalf("first Ask: %v", err)
	}
	second, err := p.Ask(context.Background(), first.SessionID, "now by month instead")
	if err != nil {
		t.Fatalf("follow-up Ask: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("session changed: %q then %q", first.SessionID, second.SessionID)
	}
	// The follow-up names no metric; the previous turn's metric carries over.
	if !strings.Contains(second.SQL, "SUM") {
		t.Fatalf("follow-up sql = %q, want inherited aggregate", second.SQL)
	}
	if !strings.Contains(second.SQL, "order_date") {
		t.Fatalf("follow-up sql = %q, want month dimension", second.SQL)
	}
}

func TestAskResetForgetsContext(t *testing.T) {
	executor := &fakeExecutor{result: exec.Result{Columns: []string{"x"}}}
	monthOnly := `{
		"select": [
			{"kind": "column", "table": "orders", "name": "order_date", "alias": "month"}
		]
	}`
	completer := &fakeCompleter{responses: []string{regionShape, monthOnly}}
	p := newTestPipeline(salesModel(), completer, executor, Config{})

	first, err := p.Ask(context.Background(), "", "total amount by region")
	if err != nil {
		t.Fatalf("first Ask: %v", err)
	}
	p.Reset(first.SessionID)
	second, err := p.Ask(context.Background(), first.SessionID, "now by month instead")
	if err != nil {
		t.Fatalf("Ask after reset: %v", err)
	}
	if strings.Contains(second.SQL, "SUM") {
		t.Fatalf("sql = %q, metric survived a reset", second.SQL)
	}
}

func TestAskAmbiguousFailsClosed(t *testing.T) {
	model := salesModel()
	model.Tables[0].Columns = append(model.Tables[0].Columns,
		semantic.Column{Name: "status", PhysicalName: "status", Type: semantic.TypeString})
	model.Tables[1].Columns = append(model.Tables[1].Columns,
		semantic.Column{Name: "status", PhysicalName: "status", Type: semantic.TypeString})

	p := newTestPipeline(model, &fakeCompleter{responses: []string{regionShape}}, &fakeExecutor{}, Config{})
	_, err := p.Ask(context.Background(), "", "total amount by status")
	var ambiguous *ground.AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("err = %v, want AmbiguousError", err)
	}
	if ambiguous.Term != "status" || len(ambiguous.Candidates) != 2 {
		t.Fatalf("ambiguity = %+v, want both status columns", ambiguous)
	}
}

func TestAskRepairLoopBounded(t *testing.T) {
	model := salesModel()
	model.Tables[0].Columns = append(model.Tables[0].Columns,
		semantic.Column{Name: "note", PhysicalName: "note", Type: semantic.TypeString})
	// sum over a string column grounds but never validates, so every
	// retranslation fails the same way until the repair budget runs out.
	badShape := `{
		"select": [
			{"kind": "metric", "table": "orders", "name": "sum_note", "alias": "total_note"}
		]
	}`
	completer := &fakeCompleter{responses: []string{badShape}}
	p := newTestPipeline(model, completer, &fakeExecutor{}, Config{MaxRepairAttempts: 2})

	_, err := p.Ask(context.Background(), "", "total note")
	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error after repairs", err)
	}
	if verr.Kind != validate.KindAggregation {
		t.Fatalf("kind = %q, want aggregation", verr.Kind)
	}
	if len(completer.prompts) != 3 {
		t.Fatalf("translations = %d, want initial plus two repairs", len(completer.prompts))
	}
	if !strings.Contains(completer.prompts[1], "aggregation") {
		t.Fatalf("repair prompt lacks validation feedback: %q", completer.prompts[1])
	}
}

func TestAskSurfacesExecutionError(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("syntax error near SELECT")}
	p := newTestPipeline(salesModel(), &fakeCompleter{responses: []string{regionShape}}, executor, Config{})

	_, err := p.Ask(context.Background(), "", "total amount by region")
	var execErr *exec.Error
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want exec.Error", err)
	}
	if execErr.Transient {
		t.Fatal("syntax error classified as transient")
	}
}

func TestSuggestListsVerifiedQuestions(t *testing.T) {
	p := newTestPipeline(salesModel(), nil, &fakeExecutor{}, Config{})
	got, err := p.Suggest()
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) != 1 || got[0] != "which region brought the most revenue" {
		t.Fatalf("suggestions = %v", got)
	}
}

func TestAskModelSourceError(t *testing.T) {
	p := New(
		&fakeModels{err: errors.New("registry down")},
		ground.NewResolver(nil, nil, ground.Config{}),
		translate.NewTranslator(nil, nil),
		exec.NewGuard(&fakeExecutor{}, fakeFiles{}, nil, exec.GuardConfig{}),
		session.NewStore(8, time.Minute),
		nil,
		Config{},
	)
	if _, err := p.Ask(context.Background(), "", "total amount"); err == nil {
		t.Fatal("expected error when no model is active")
	}
}
