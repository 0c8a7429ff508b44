package ground

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/semquery/semquery/internal/plan"
	"github.com/semquery/semquery/internal/semantic"
)

// span is a run of question tokens that matched one or more entity phrases.
type span struct {
	start      int
	length     int
	term       string
	candidates []Candidate
}

type metricSlot struct {
	agg   plan.AggFunc
	span  *span
	table string
	term  string
}

type dimensionSlot struct {
	span  *span
	grain plan.TimeGrain
	term  string
}

type filterSlot struct {
	term       string
	candidates []Candidate
	op         plan.CompareOp
	values     []plan.Literal
	year       int
}

type scanResult struct {
	metricSlots    []metricSlot
	dimensionSlots []dimensionSlot
	filterSlots    []filterSlot
	leftover       []*span
	limit          int
	elliptical     bool
}

var aggWords = map[string]plan.AggFunc{
	"total":   plan.AggSum,
	"sum":     plan.AggSum,
	"average": plan.AggAvg,
	"avg":     plan.AggAvg,
	"mean":    plan.AggAvg,
	"count":   plan.AggCount,
	"many":    plan.AggCount,
	"number":  plan.AggCount,
	"max":     plan.AggMax,
	"maximum": plan.AggMax,
	"highest": plan.AggMax,
	"min":     plan.AggMin,
	"minimum": plan.AggMin,
	"lowest":  plan.AggMin,
}

var grainWords = map[string]plan.TimeGrain{
	"day":       plan.GrainDay,
	"daily":     plan.GrainDay,
	"week":      plan.GrainWeek,
	"weekly":    plan.GrainWeek,
	"month":     plan.GrainMonth,
	"monthly":   plan.GrainMonth,
	"quarter":   plan.GrainQuarter,
	"quarterly": plan.GrainQuarter,
	"year":      plan.GrainYear,
	"yearly":    plan.GrainYear,
	"annual":    plan.GrainYear,
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "for": true,
	"in": true, "on": true, "with": true, "what": true, "which": true,
	"is": true, "are": true, "was": true, "were": true, "show": true,
	"me": true, "give": true, "list": true, "how": true, "much": true,
	"each": true, "all": true, "and": true, "do": true, "did": true,
	"we": true, "our": true, "please": true, "have": true,
}

var ellipsisWords = map[string]bool{
	"instead": true, "now": true, "same": true, "that": true,
	"it": true, "them": true, "those": true, "also": true,
	"again": true, "previous": true, "this": true, "too": true,
}

var compareWords = map[string]plan.CompareOp{
	"over":    plan.OpGt,
	"above":   plan.OpGt,
	"exceeds": plan.OpGt,
	"under":   plan.OpLt,
	"below":   plan.OpLt,
}

var yearPattern = regexp.MustCompile(`^(19|20)\d{2}$`)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(question string) []string {
	return tokenPattern.FindAllString(strings.ToLower(question), -1)
}

func normalizeName(name string) string {
	return strings.Join(tokenize(name), " ")
}

// index maps normalized entity phrases to their candidates, plus sample
// values and table names for the value-literal and count paths.
type index struct {
	phrases      map[string][]Candidate
	maxPhraseLen int
	sampleValues map[string][]Candidate
	tables       map[string]string
}

func buildIndex(model *semantic.Model) *index {
	idx := &index{
		phrases:      map[string][]Candidate{},
		sampleValues: map[string][]Candidate{},
		tables:       map[string]string{},
	}
	add := func(phrase string, cand Candidate) {
		phrase = normalizeName(phrase)
		if phrase == "" {
			return
		}
		idx.phrases[phrase] = append(idx.phrases[phrase], cand)
		if n := len(strings.Fields(phrase)); n > idx.maxPhraseLen {
			idx.maxPhraseLen = n
		}
	}
	for _, table := range model.Tables {
		idx.tables[normalizeName(table.Name)] = table.Name
		idx.tables[singular(normalizeName(table.Name))] = table.Name
		for _, col := range table.Columns {
			cand := Candidate{Kind: KindColumn, Table: table.Name, Name: col.Name, Score: scoreExact}
			add(col.Name, cand)
			for _, syn := range col.Synonyms {
				synCand := cand
				synCand.Score = scoreSynonym
				add(syn, synCand)
			}
			for _, sample := range col.SampleValues {
				key := normalizeName(sample)
				if key == "" {
					continue
				}
				idx.sampleValues[key] = append(idx.sampleValues[key], Candidate{Kind: KindColumn, Table: table.Name, Name: col.Name, Score: scoreExact})
			}
		}
		for _, metric := range table.Metrics {
			cand := Candidate{Kind: KindMetric, Table: table.Name, Name: metric.Name, Score: scoreExact}
			add(metric.Name, cand)
			for _, syn := range metric.Synonyms {
				synCand := cand
				synCand.Score = scoreSynonym
				add(syn, synCand)
			}
		}
	}
	return idx
}

func singular(name string) string {
	if strings.HasSuffix(name, "s") && len(name) > 1 {
		return strings.TrimSuffix(name, "s")
	}
	return name
}

// newScan walks the token stream once, matching entity phrases greedily
// (longest first) and attaching structural keywords to the nearest match.
func newScan(tokens []string, idx *index) *scanResult {
	res := &scanResult{}
	consumed := make([]bool, len(tokens))

	// Longest-match entity spans.
	var spans []*span
	spanAt := make([]*span, len(tokens))
	for i := 0; i < len(tokens); {
		matched := false
		for n := min(idx.maxPhraseLen, len(tokens)-i); n >= 1; n-- {
			phrase := strings.Join(tokens[i:i+n], " ")
			cands, ok := idx.phrases[phrase]
			if !ok {
				continue
			}
			sp := &span{start: i, length: n, term: phrase, candidates: cands}
			spans = append(spans, sp)
			for j := i; j < i+n; j++ {
				spanAt[j] = sp
				consumed[j] = true
			}
			i += n
			matched = true
			break
		}
		if !matched {
			i++
		}
	}
	usedSpan := map[*span]bool{}

	nextContent := func(from int) (int, bool) {
		for i := from; i < len(tokens); i++ {
			if stopwords[tokens[i]] {
				continue
			}
			return i, true
		}
		return 0, false
	}

	// Grouping markers.
	for i, tok := range tokens {
		if tok != "by" && tok != "per" {
			continue
		}
		j, ok := nextContent(i + 1)
		if !ok {
			continue
		}
		if grain, ok := grainWords[tokens[j]]; ok {
			// "by month": a bare grain, or a grain over an adjacent column
			// span ("by month of order_date").
			if k, ok := nextContent(j + 1); ok && spanAt[k] != nil && !usedSpan[spanAt[k]] {
				sp := spanAt[k]
				usedSpan[sp] = true
				res.dimensionSlots = append(res.dimensionSlots, dimensionSlot{span: sp, grain: grain})
			} else {
				res.dimensionSlots = append(res.dimensionSlots, dimensionSlot{grain: grain})
			}
			consumed[j] = true
			continue
		}
		if sp := spanAt[j]; sp != nil && !usedSpan[sp] {
			usedSpan[sp] = true
			slot := dimensionSlot{span: sp}
			// Trailing grain attaches to the dimension ("by order_date month").
			if k, ok := nextContent(sp.start + sp.length); ok {
				if grain, isGrain := grainWords[tokens[k]]; isGrain {
					slot.grain = grain
					consumed[k] = true
				}
			}
			res.dimensionSlots = append(res.dimensionSlots, slot)
			continue
		}
		// Unmatched grouping term: take up to two content tokens as the
		// term so the resolver can report it.
		end := j + 1
		if end < len(tokens) && !stopwords[tokens[end]] && spanAt[end] == nil {
			if _, isAgg := aggWords[tokens[end]]; !isAgg {
				end++
			}
		}
		res.dimensionSlots = append(res.dimensionSlots, dimensionSlot{term: strings.Join(tokens[j:end], " ")})
		for k := j; k < end; k++ {
			consumed[k] = true
		}
	}

	// Aggregation markers.
	for i, tok := range tokens {
		agg, ok := aggWords[tok]
		if !ok {
			continue
		}
		if spanAt[i] != nil {
			// The word is part of a matched phrase ("total amount" as a
			// metric name); the span path below handles it.
			continue
		}
		j, ok := nextContent(i + 1)
		if !ok || consumed[j] && spanAt[j] == nil {
			continue
		}
		if sp := spanAt[j]; sp != nil && !usedSpan[sp] {
			usedSpan[sp] = true
			res.metricSlots = append(res.metricSlots, metricSlot{agg: agg, span: sp})
			continue
		}
		if agg == plan.AggCount {
			if table, ok := idx.tables[tokens[j]]; ok {
				consumed[j] = true
				res.metricSlots = append(res.metricSlots, metricSlot{agg: agg, table: table})
				continue
			}
		}
		if !consumed[j] {
			consumed[j] = true
			res.metricSlots = append(res.metricSlots, metricSlot{agg: agg, term: tokens[j]})
		}
	}

	// Directly named metrics not claimed by a slot.
	for _, sp := range spans {
		if usedSpan[sp] {
			continue
		}
		if len(metricsOnly(sp.candidates)) > 0 {
			usedSpan[sp] = true
			res.metricSlots = append(res.metricSlots, metricSlot{span: sp})
		}
	}

	// Comparison filters: "<column> over <number>".
	for _, sp := range spans {
		if usedSpan[sp] {
			continue
		}
		i := sp.start + sp.length
		j, ok := nextContent(i)
		if !ok {
			continue
		}
		op, isCompare := compareWords[tokens[j]]
		if !isCompare {
			continue
		}
		k, ok := nextContent(j + 1)
		if !ok {
			continue
		}
		if _, err := strconv.ParseFloat(tokens[k], 64); err != nil {
			continue
		}
		usedSpan[sp] = true
		consumed[j], consumed[k] = true, true
		res.filterSlots = append(res.filterSlots, filterSlot{
			term:       sp.term,
			candidates: columnsOnly(sp.candidates),
			op:         op,
			values:     []plan.Literal{{Kind: plan.LiteralNumber, Value: tokens[k]}},
		})
	}

	// Remaining tokens: limits, years, sample values, ellipsis markers.
	for i, tok := range tokens {
		if consumed[i] {
			continue
		}
		if ellipsisWords[tok] {
			res.elliptical = true
			continue
		}
		if tok == "top" || tok == "first" {
			if i+1 < len(tokens) {
				if n, ok := parseLimit(tokens[i+1]); ok {
					res.limit = n
					consumed[i+1] = true
				}
			}
			continue
		}
		if yearPattern.MatchString(tok) {
			year, _ := strconv.Atoi(tok)
			res.filterSlots = append(res.filterSlots, filterSlot{year: year})
			continue
		}
		if cands, ok := idx.sampleValues[tok]; ok {
			res.filterSlots = append(res.filterSlots, filterSlot{
				term:       tok,
				candidates: cands,
				op:         plan.OpEq,
				values:     []plan.Literal{{Kind: plan.LiteralString, Value: tok}},
			})
		}
	}

	for _, sp := range spans {
		if !usedSpan[sp] {
			res.leftover = append(res.leftover, sp)
		}
	}
	return res
}
