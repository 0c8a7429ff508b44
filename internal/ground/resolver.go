package ground

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/semquery/semquery/internal/llm"
	"github.com/semquery/semquery/internal/plan"
	"github.com/semquery/semquery/internal/semantic"
)

// Config tunes resolver behavior.
type Config struct {
	// MinConfidence is the floor below which a grounding is treated as
	// ambiguous rather than accepted.
	MinConfidence float64
}

const (
	scoreExact   = 1.0
	scoreSynonym = 0.9
	scoreFuzzy   = 0.65

	defaultMinConfidence = 0.6
)

// Resolver grounds question terms against a semantic model. Resolution is
// deterministic: the same question against the same model and focus always
// produces the same GIR or the same error.
type Resolver struct {
	completer llm.Completer
	logger    *slog.Logger
	minConf   float64
}

// NewResolver builds a resolver. completer is optional; without it the
// fuzzy-match rung of the ladder is skipped and unmatched terms fail closed.
func NewResolver(completer llm.Completer, logger *slog.Logger, cfg Config) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = defaultMinConfidence
	}
	return &Resolver{completer: completer, logger: logger, minConf: minConf}
}

// Resolve grounds question against model. focus carries the prior turn's
// entities and is used for tie-breaking and for attaching bare time grains;
// it never overrides an explicit match.
func (r *Resolver) Resolve(ctx context.Context, model *semantic.Model, question string, focus Focus) (GIR, error) {
	tokens := tokenize(question)
	if len(tokens) == 0 {
		return GIR{}, fmt.Errorf("ground: empty question")
	}

	idx := buildIndex(model)
	scan := newScan(tokens, idx)

	gir := GIR{Question: question, Elliptical: scan.elliptical}
	if scan.limit > 0 {
		gir.Limit = scan.limit
		gir.OrderDesc = true
	}

	// Grouping dimensions come from "by"/"per" markers.
	for _, slot := range scan.dimensionSlots {
		if slot.grain != "" && slot.span == nil {
			dim, err := r.grainDimension(model, slot.grain, gir, focus)
			if err != nil {
				return GIR{}, err
			}
			gir.Dimensions = append(gir.Dimensions, dim)
			continue
		}
		if slot.span == nil {
			cand, source, err := r.pick(ctx, model, slot.term, nil, focus)
			if err != nil {
				return GIR{}, err
			}
			gir.Dimensions = append(gir.Dimensions, DimensionSel{
				Table:      cand.Table,
				Column:     cand.Name,
				Grain:      slot.grain,
				Confidence: cand.Score,
				Source:     source,
			})
			continue
		}
		cand, source, err := r.pick(ctx, model, slot.span.term, columnsOnly(slot.span.candidates), focus)
		if err != nil {
			return GIR{}, err
		}
		grain := slot.grain
		if grain != "" && !isTemporal(model, cand.Table, cand.Name) {
			// "by month and region": the grain belongs to a temporal
			// column, not to the dimension that happened to follow it.
			dim, err := r.grainDimension(model, grain, gir, focus)
			if err != nil {
				return GIR{}, err
			}
			gir.Dimensions = append(gir.Dimensions, dim)
			grain = ""
		}
		gir.Dimensions = append(gir.Dimensions, DimensionSel{
			Table:      cand.Table,
			Column:     cand.Name,
			Grain:      grain,
			Confidence: cand.Score,
			Source:     source,
		})
	}

	// Aggregations: explicit aggregation words and directly named metrics.
	for _, slot := range scan.metricSlots {
		sel, err := r.resolveMetric(ctx, model, slot, focus)
		if err != nil {
			return GIR{}, err
		}
		gir.Metrics = append(gir.Metrics, sel)
	}

	// Bare mentions of a metric's base column ("revenue by region") imply
	// the declared metric.
	for _, sp := range scan.leftover {
		cands := metricBacked(model, columnsOnly(sp.candidates))
		if len(cands) == 0 {
			continue
		}
		cand, source, err := r.pick(ctx, model, sp.term, cands, focus)
		if err != nil {
			return GIR{}, err
		}
		table, ok := model.Table(cand.Table)
		if !ok {
			continue
		}
		for _, metric := range table.Metrics {
			if metric.Column == cand.Name {
				gir.Metrics = append(gir.Metrics, MetricSel{
					Metric:     metric.Name,
					Agg:        metric.Agg,
					Table:      cand.Table,
					Column:     metric.Column,
					Confidence: cand.Score,
					Source:     source,
				})
				break
			}
		}
	}

	// Filters: comparison phrases, sample-value mentions, and year literals.
	for _, slot := range scan.filterSlots {
		sel, err := r.resolveFilter(ctx, model, slot, gir, focus)
		if err != nil {
			return GIR{}, err
		}
		gir.Filters = append(gir.Filters, sel)
	}

	gir.Metrics = dedupeMetrics(gir.Metrics)
	gir.Dimensions = dedupeDimensions(gir.Dimensions)
	if len(gir.Metrics) == 0 && len(gir.Dimensions) == 0 && len(gir.Filters) == 0 {
		if scan.elliptical {
			return gir, nil
		}
		return GIR{}, &NoMatchError{Term: question}
	}
	return gir, nil
}

func (r *Resolver) resolveMetric(ctx context.Context, model *semantic.Model, slot metricSlot, focus Focus) (MetricSel, error) {
	// A directly named model metric wins outright.
	if slot.span != nil {
		if metrics := metricsOnly(slot.span.candidates); len(metrics) > 0 {
			cand, source, err := r.pick(ctx, model, slot.span.term, metrics, focus)
			if err != nil {
				return MetricSel{}, err
			}
			table, ok := model.Table(cand.Table)
			if !ok {
				return MetricSel{}, fmt.Errorf("ground: unknown table %q", cand.Table)
			}
			metric, ok := table.Metric(cand.Name)
			if !ok {
				return MetricSel{}, fmt.Errorf("ground: unknown metric %q on table %q", cand.Name, cand.Table)
			}
			return MetricSel{
				Metric:     metric.Name,
				Agg:        metric.Agg,
				Table:      cand.Table,
				Column:     metric.Column,
				Confidence: cand.Score,
				Source:     source,
			}, nil
		}
	}

	if slot.agg == plan.AggCount && slot.table != "" {
		return MetricSel{Agg: plan.AggCount, Table: slot.table, Confidence: scoreExact, Source: SourceExact}, nil
	}

	var cands []Candidate
	var term string
	if slot.span != nil {
		cands = columnsOnly(slot.span.candidates)
		term = slot.span.term
	} else {
		term = slot.term
	}
	cand, source, err := r.pick(ctx, model, term, cands, focus)
	if err != nil {
		return MetricSel{}, err
	}
	sel := MetricSel{Agg: slot.agg, Table: cand.Table, Column: cand.Name, Confidence: cand.Score, Source: source}
	// Promote ad-hoc aggregations that coincide with a declared metric.
	if table, ok := model.Table(cand.Table); ok {
		for _, metric := range table.Metrics {
			if metric.Agg == sel.Agg && metric.Column == sel.Column {
				sel.Metric = metric.Name
				break
			}
		}
	}
	return sel, nil
}

func (r *Resolver) resolveFilter(ctx context.Context, model *semantic.Model, slot filterSlot, gir GIR, focus Focus) (FilterSel, error) {
	if slot.year != 0 {
		dim, err := r.grainDimension(model, plan.GrainYear, gir, focus)
		if err != nil {
			return FilterSel{}, err
		}
		return FilterSel{
			Table:  dim.Table,
			Column: dim.Column,
			Op:     plan.OpBetween,
			Values: []plan.Literal{
				{Kind: plan.LiteralDate, Value: fmt.Sprintf("%04d-01-01", slot.year)},
				{Kind: plan.LiteralDate, Value: fmt.Sprintf("%04d-12-31", slot.year)},
			},
			Confidence: scoreExact,
			Source:     SourceExact,
		}, nil
	}

	cand, source, err := r.pick(ctx, model, slot.term, slot.candidates, focus)
	if err != nil {
		return FilterSel{}, err
	}
	return FilterSel{
		Table:      cand.Table,
		Column:     cand.Name,
		Op:         slot.op,
		Values:     slot.values,
		Confidence: cand.Score,
		Source:     source,
	}, nil
}

func isTemporal(model *semantic.Model, table, column string) bool {
	t, ok := model.Table(table)
	if !ok {
		return false
	}
	col, ok := t.Column(column)
	return ok && col.Type.Temporal()
}

// grainDimension finds the temporal column a bare grain word ("by month")
// should truncate. Preference order: a temporal column already in the
// current question, then the conversation focus, then the single temporal
// column of the model if it is unique.
func (r *Resolver) grainDimension(model *semantic.Model, grain plan.TimeGrain, gir GIR, focus Focus) (DimensionSel, error) {
	pickTemporal := func(table, column string) (DimensionSel, bool) {
		if !isTemporal(model, table, column) {
			return DimensionSel{}, false
		}
		return DimensionSel{Table: table, Column: column, Grain: grain, Confidence: scoreExact, Source: SourceContext}, true
	}

	for _, dim := range gir.Dimensions {
		if sel, ok := pickTemporal(dim.Table, dim.Column); ok {
			return sel, nil
		}
	}
	for _, f := range gir.Filters {
		if sel, ok := pickTemporal(f.Table, f.Column); ok {
			return sel, nil
		}
	}
	for _, dim := range focus.Dimensions {
		if sel, ok := pickTemporal(dim.Table, dim.Column); ok {
			return sel, nil
		}
	}
	for _, f := range focus.Filters {
		if sel, ok := pickTemporal(f.Table, f.Column); ok {
			return sel, nil
		}
	}

	var found []DimensionSel
	for _, table := range model.Tables {
		for _, col := range table.Columns {
			if col.Type.Temporal() {
				found = append(found, DimensionSel{Table: table.Name, Column: col.Name, Grain: grain, Confidence: scoreSynonym, Source: SourceContext})
			}
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return DimensionSel{}, &NoMatchError{Term: string(grain)}
	}
	cands := make([]Candidate, len(found))
	for i, dim := range found {
		cands[i] = Candidate{Kind: KindColumn, Table: dim.Table, Name: dim.Column, Score: scoreSynonym}
	}
	return DimensionSel{}, &AmbiguousError{Term: string(grain), Candidates: cands}
}

// pick selects one candidate for a term, applying the resolution ladder and
// the deterministic tie-break order: conversation focus, then verified-query
// co-occurrence, then fail closed.
func (r *Resolver) pick(ctx context.Context, model *semantic.Model, term string, cands []Candidate, focus Focus) (Candidate, MatchSource, error) {
	cands = dedupeCandidates(cands)
	if len(cands) == 0 {
		fuzzy, err := r.fuzzyMatch(ctx, model, term)
		if err != nil {
			return Candidate{}, "", err
		}
		cands = fuzzy
	}
	if len(cands) == 0 {
		return Candidate{}, "", &NoMatchError{Term: term}
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].Table != cands[j].Table {
			return cands[i].Table < cands[j].Table
		}
		return cands[i].Name < cands[j].Name
	})

	top := []Candidate{cands[0]}
	for _, c := range cands[1:] {
		if c.Score == cands[0].Score {
			top = append(top, c)
		}
	}

	if len(top) > 1 {
		// Tie-break 1: prefer the candidate already in the conversation focus.
		var inFocus []Candidate
		for _, c := range top {
			if focus.hasColumn(c.Table, c.Name) || focus.hasTable(c.Table) {
				inFocus = append(inFocus, c)
			}
		}
		if len(inFocus) == 1 {
			top = inFocus
		} else if len(top) > 1 {
			// Tie-break 2: prefer the candidate verified queries use more.
			best, ok := breakByVerifiedUse(model, top)
			if !ok {
				return Candidate{}, "", &AmbiguousError{Term: term, Candidates: top}
			}
			top = []Candidate{best}
		}
	}

	winner := top[0]
	if winner.Score < r.minConf {
		return Candidate{}, "", &AmbiguousError{Term: term, Candidates: top}
	}
	source := SourceExact
	switch winner.Score {
	case scoreSynonym:
		source = SourceSynonym
	case scoreFuzzy:
		source = SourceFuzzy
	}
	return winner, source, nil
}

// breakByVerifiedUse returns the candidate with strictly the most
// occurrences across verified query plans, or ok=false on a further tie.
func breakByVerifiedUse(model *semantic.Model, cands []Candidate) (Candidate, bool) {
	counts := make([]int, len(cands))
	for i, c := range cands {
		counts[i] = verifiedUseCount(model, c)
	}
	best, tied := 0, false
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best, tied = i, false
		} else if counts[i] == counts[best] {
			tied = true
		}
	}
	if tied || counts[best] == 0 {
		return Candidate{}, false
	}
	return cands[best], true
}

func verifiedUseCount(model *semantic.Model, c Candidate) int {
	count := 0
	for _, vq := range model.VerifiedQueries {
		p := vq.Plan
		for _, item := range p.Select {
			if c.Kind == KindMetric && item.Metric != nil && item.Metric.Table == c.Table && item.Metric.Metric == c.Name {
				count++
			}
			if c.Kind == KindColumn && item.Column != nil && item.Column.Table == c.Table && item.Column.Column == c.Name {
				count++
			}
		}
		if c.Kind == KindColumn {
			for _, ref := range p.GroupBy {
				if ref.Table == c.Table && ref.Column == c.Name {
					count++
				}
			}
			for _, pred := range p.Where {
				if pred.Table == c.Table && pred.Column == c.Name {
					count++
				}
			}
		}
	}
	return count
}

// fuzzyMatch asks the LLM to map an unmatched term onto the model
// vocabulary. The grammar confines answers to declared entities, so a
// hallucinated name is rejected before it can reach the resolver. An
// unavailable LLM degrades to zero candidates rather than failing the turn.
func (r *Resolver) fuzzyMatch(ctx context.Context, model *semantic.Model, term string) ([]Candidate, error) {
	if r.completer == nil {
		return nil, nil
	}
	vocab := vocabulary(model)
	prompt := fmt.Sprintf(
		"Map the question term %q onto one entity from this analytics vocabulary, or answer none.\n\nVocabulary:\n%s\n\nRespond with JSON: {\"entity\": \"<table>.<name>\", \"kind\": \"column\"|\"metric\"} or {\"entity\": \"none\"}.",
		term, strings.Join(vocab, "\n"))
	resp, err := r.completer.Complete(ctx, llm.Request{
		System:  "You match business terms to data warehouse entities. Only use entities from the provided vocabulary.",
		Prompt:  prompt,
		Grammar: fuzzyGrammar(model),
	})
	if err != nil {
		var grammarErr *llm.GrammarError
		if errors.As(err, &grammarErr) || errors.Is(err, llm.ErrUnavailable) {
			r.logger.WarnContext(ctx, "fuzzy match unavailable", "term", term, "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("ground: fuzzy match: %w", err)
	}
	var out struct {
		Entity string     `json:"entity"`
		Kind   EntityKind `json:"kind"`
	}
	if err := json.Unmarshal(resp.Raw, &out); err != nil {
		return nil, fmt.Errorf("ground: fuzzy match response: %w", err)
	}
	if out.Entity == "none" || out.Entity == "" {
		return nil, nil
	}
	table, name, _ := strings.Cut(out.Entity, ".")
	return []Candidate{{Kind: out.Kind, Table: table, Name: name, Score: scoreFuzzy}}, nil
}

func fuzzyGrammar(model *semantic.Model) llm.Grammar {
	valid := map[string]EntityKind{}
	for _, table := range model.Tables {
		for _, col := range table.Columns {
			valid[table.Name+"."+col.Name] = KindColumn
		}
		for _, metric := range table.Metrics {
			valid[table.Name+"."+metric.Name] = KindMetric
		}
	}
	return llm.Grammar{
		Description: "JSON object with an entity field naming a vocabulary entry or none",
		Check: func(raw json.RawMessage) error {
			var out struct {
				Entity string     `json:"entity"`
				Kind   EntityKind `json:"kind"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return &llm.GrammarError{Detail: "response is not a JSON object with an entity field"}
			}
			if out.Entity == "none" || out.Entity == "" {
				return nil
			}
			kind, ok := valid[out.Entity]
			if !ok {
				return &llm.GrammarError{Detail: fmt.Sprintf("entity %q is not in the vocabulary", out.Entity)}
			}
			if out.Kind != kind {
				return &llm.GrammarError{Detail: fmt.Sprintf("entity %q is a %s, not a %s", out.Entity, kind, out.Kind)}
			}
			return nil
		},
	}
}

func vocabulary(model *semantic.Model) []string {
	var lines []string
	for _, table := range model.Tables {
		for _, col := range table.Columns {
			line := fmt.Sprintf("- column %s.%s (%s)", table.Name, col.Name, col.Type)
			if col.Description != "" {
				line += ": " + col.Description
			}
			lines = append(lines, line)
		}
		for _, metric := range table.Metrics {
			lines = append(lines, fmt.Sprintf("- metric %s.%s (%s of %s)", table.Name, metric.Name, metric.Agg, metric.Column))
		}
	}
	return lines
}

// metricBacked keeps column candidates that are the base column of a
// declared metric on their table.
func metricBacked(model *semantic.Model, cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		table, ok := model.Table(c.Table)
		if !ok {
			continue
		}
		for _, metric := range table.Metrics {
			if metric.Column == c.Name {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func columnsOnly(cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if c.Kind == KindColumn {
			out = append(out, c)
		}
	}
	return out
}

func metricsOnly(cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if c.Kind == KindMetric {
			out = append(out, c)
		}
	}
	return out
}

func dedupeCandidates(cands []Candidate) []Candidate {
	seen := map[string]bool{}
	var out []Candidate
	for _, c := range cands {
		key := string(c.Kind) + "|" + c.Table + "|" + c.Name
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func dedupeMetrics(sels []MetricSel) []MetricSel {
	seen := map[string]bool{}
	var out []MetricSel
	for _, s := range sels {
		key := string(s.Agg) + "|" + s.Table + "|" + s.Column + "|" + s.Metric
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func dedupeDimensions(sels []DimensionSel) []DimensionSel {
	seen := map[string]bool{}
	var out []DimensionSel
	for _, s := range sels {
		key := s.Table + "|" + s.Column + "|" + string(s.Grain)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func parseLimit(token string) (int, bool) {
	n, err := strconv.Atoi(token)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
