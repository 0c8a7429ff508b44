// Package modelgen drafts a semantic model from introspected warehouse
// metadata, optionally enriched by the LLM collaborator. It runs offline and
// only ever produces a reviewable draft artifact; publication to the online
// path is a separate, human-gated step.
package modelgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/semquery/semquery/internal/introspect"
	"github.com/semquery/semquery/internal/llm"
	"github.com/semquery/semquery/internal/plan"
	"github.com/semquery/semquery/internal/semantic"
)

type AnnotationKind string

const (
	AnnotationEnriched      AnnotationKind = "enriched"
	AnnotationSchemaOnly    AnnotationKind = "schema_only"
	AnnotationAmbiguousType AnnotationKind = "ambiguous_type"
	AnnotationUnmappedKey   AnnotationKind = "unmapped_foreign_key"
	AnnotationMetricGuess   AnnotationKind = "proposed_metric"
)

// Annotation records a generation decision that needs human review.
type Annotation struct {
	Kind       AnnotationKind
	Subject    string
	Detail     string
	Confidence float64
}

// Draft is the generator output: a structurally valid model plus the review
// trail. SchemaOnly marks drafts produced without LLM enrichment.
type Draft struct {
	Model       *semantic.Model
	Annotations []Annotation
	SchemaOnly  bool
}

type Generator struct {
	Introspector introspect.Introspector
	Completer    llm.Completer
	Logger       *slog.Logger
}

func (g *Generator) Generate(ctx context.Context, modelName string) (*Draft, error) {
	if g.Introspector == nil {
		return nil, fmt.Errorf("introspector is required")
	}
	logger := g.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	tables, err := g.Introspector.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("warehouse schema has no tables")
	}

	draft := &Draft{
		Model: &semantic.Model{Name: modelName, Version: 1},
	}

	llmDown := g.Completer == nil
	for _, tableMeta := range tables {
		columns, err := g.Introspector.ListColumns(ctx, tableMeta.Name)
		if err != nil {
			return nil, fmt.Errorf("introspect columns for %q: %w", tableMeta.Name, err)
		}

		table := g.draftTable(tableMeta, columns, draft)

		if !llmDown {
			enriched, err := g.enrichTable(ctx, &table, columns)
			switch {
			case errors.Is(err, llm.ErrUnavailable):
				// Degrade to a schema-only draft for the rest of the run.
				llmDown = true
				logger.Warn("llm collaborator unavailable, continuing schema-only",
					slog.String("table", tableMeta.Name), slog.Any("error", err))
			case err != nil:
				logger.Warn("table enrichment rejected",
					slog.String("table", tableMeta.Name), slog.Any("error", err))
				draft.Annotations = append(draft.Annotations, Annotation{
					Kind:    AnnotationSchemaOnly,
					Subject: tableMeta.Name,
					Detail:  "enrichment output rejected: " + err.Error(),
				})
			default:
				draft.Annotations = append(draft.Annotations, enriched...)
			}
		}

		draft.Model.Tables = append(draft.Model.Tables, table)
	}

	if llmDown {
		draft.SchemaOnly = true
		if g.Completer != nil {
			draft.Annotations = append(draft.Annotations, Annotation{
				Kind:   AnnotationSchemaOnly,
				Detail: "llm collaborator unavailable, draft contains no synonyms or descriptions",
			})
		}
	}

	foreignKeys, err := g.Introspector.ListForeignKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}
	g.draftRelationships(foreignKeys, draft)

	if err := draft.Model.Validate(); err != nil {
		return nil, fmt.Errorf("generated draft failed model validation: %w", err)
	}
	return draft, nil
}

func (g *Generator) draftTable(meta introspect.TableMeta, columns []introspect.ColumnMeta, draft *Draft) semantic.Table {
	table := semantic.Table{
		Name:         logicalName(meta.Name),
		PhysicalName: physicalName(meta),
	}
	for _, columnMeta := range columns {
		dataType, exact := mapDataType(columnMeta.Type)
		if !exact {
			draft.Annotations = append(draft.Annotations, Annotation{
				Kind:       AnnotationAmbiguousType,
				Subject:    meta.Name + "." + columnMeta.Name,
				Detail:     fmt.Sprintf("physical type %q mapped to %q", columnMeta.Type, dataType),
				Confidence: 0.5,
			})
		}
		table.Columns = append(table.Columns, semantic.Column{
			Name:         logicalName(columnMeta.Name),
			PhysicalName: columnMeta.Name,
			Type:         dataType,
			SampleValues: columnMeta.SampleValues,
		})

		if dataType.Numeric() && columnMeta.KeyRole == introspect.KeyNone {
			metricName := "total_" + logicalName(columnMeta.Name)
			table.Metrics = append(table.Metrics, semantic.Metric{
				Name:   metricName,
				Agg:    plan.AggSum,
				Column: logicalName(columnMeta.Name),
				Type:   dataType,
			})
			draft.Annotations = append(draft.Annotations, Annotation{
				Kind:       AnnotationMetricGuess,
				Subject:    table.Name + "." + metricName,
				Detail:     "sum metric proposed for numeric measure column",
				Confidence: 0.6,
			})
		}
	}
	return table
}

type enrichmentOutput struct {
	Table struct {
		Description string `json:"description"`
	} `json:"table"`
	Columns map[string]struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Synonyms    []string `json:"synonyms"`
		Confidence  float64  `json:"confidence"`
	} `json:"columns"`
}

func (g *Generator) enrichTable(ctx context.Context, table *semantic.Table, columns []introspect.ColumnMeta) ([]Annotation, error) {
	known := map[string]bool{}
	var describe strings.Builder
	for _, columnMeta := range columns {
		known[columnMeta.Name] = true
		describe.WriteString(fmt.Sprintf("- %s (%s", columnMeta.Name, columnMeta.Type))
		if len(columnMeta.SampleValues) > 0 {
			describe.WriteString(", samples: " + strings.Join(columnMeta.SampleValues, ", "))
		}
		describe.WriteString(")\n")
	}

	req := llm.Request{
		System: "You name database schema elements for business users. " +
			"Propose concise logical names, one-sentence descriptions, and business synonyms.",
		Prompt: fmt.Sprintf("Physical table: %s\nColumns:\n%s", table.PhysicalName, describe.String()),
		Grammar: llm.Grammar{
			Description: `{"table":{"description":string},"columns":{"<physical_column>":{"name":string,"description":string,"synonyms":[string],"confidence":number}}} — column keys must be existing physical column names; names must be lower_snake_case identifiers`,
			Check:       enrichmentGrammar(known),
		},
	}

	resp, err := g.Completer.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var out enrichmentOutput
	if err := json.Unmarshal(resp.Raw, &out); err != nil {
		return nil, err
	}

	var annotations []Annotation
	table.Description = strings.TrimSpace(out.Table.Description)
	for i := range table.Columns {
		column := &table.Columns[i]
		proposal, ok := out.Columns[column.PhysicalName]
		if !ok {
			continue
		}
		confidence := proposal.Confidence
		if confidence <= 0 {
			confidence = 0.6
		}
		if proposal.Name != "" {
			column.Name = proposal.Name
		}
		column.Description = strings.TrimSpace(proposal.Description)
		column.Synonyms = proposal.Synonyms
		annotations = append(annotations, Annotation{
			Kind:       AnnotationEnriched,
			Subject:    table.Name + "." + column.Name,
			Detail:     fmt.Sprintf("proposed name %q with %d synonyms", column.Name, len(proposal.Synonyms)),
			Confidence: confidence,
		})
	}

	// Metric base columns may have been renamed by the proposals.
	for i := range table.Metrics {
		metric := &table.Metrics[i]
		for _, column := range table.Columns {
			if "total_"+logicalName(column.PhysicalName) == metric.Name {
				metric.Column = column.Name
				metric.Name = "total_" + column.Name
			}
		}
	}

	return annotations, nil
}

func (g *Generator) draftRelationships(keys []introspect.ForeignKey, draft *Draft) {
	byPhysical := map[string]*semantic.Table{}
	for i := range draft.Model.Tables {
		table := &draft.Model.Tables[i]
		byPhysical[lastPathComponent(table.PhysicalName)] = table
	}

	for _, key := range keys {
		left, leftOK := byPhysical[key.Table]
		right, rightOK := byPhysical[key.RefTable]
		if !leftOK || !rightOK {
			draft.Annotations = append(draft.Annotations, Annotation{
				Kind:    AnnotationUnmappedKey,
				Subject: key.Table + "." + key.Column,
				Detail:  fmt.Sprintf("foreign key to %s.%s has no drafted table on one side", key.RefTable, key.RefColumn),
			})
			continue
		}
		leftColumn, leftColOK := columnByPhysical(left, key.Column)
		rightColumn, rightColOK := columnByPhysical(right, key.RefColumn)
		if !leftColOK || !rightColOK {
			draft.Annotations = append(draft.Annotations, Annotation{
				Kind:    AnnotationUnmappedKey,
				Subject: key.Table + "." + key.Column,
				Detail:  "foreign key column missing from drafted table",
			})
			continue
		}
		draft.Model.Relationships = append(draft.Model.Relationships, semantic.Relationship{
			Name:        left.Name + "_" + right.Name,
			LeftTable:   left.Name,
			RightTable:  right.Name,
			Cardinality: semantic.OneToMany,
			JoinKeys:    []semantic.JoinKey{{LeftColumn: leftColumn, RightColumn: rightColumn}},
		})
	}
}

func enrichmentGrammar(knownColumns map[string]bool) func(raw json.RawMessage) error {
	identPattern := regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	return func(raw json.RawMessage) error {
		var out enrichmentOutput
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
		for physical, proposal := range out.Columns {
			if !knownColumns[physical] {
				return fmt.Errorf("column %q does not exist", physical)
			}
			if proposal.Name != "" && !identPattern.MatchString(proposal.Name) {
				return fmt.Errorf("proposed name %q is not a lower_snake_case identifier", proposal.Name)
			}
		}
		return nil
	}
}

func columnByPhysical(table *semantic.Table, physical string) (string, bool) {
	for _, column := range table.Columns {
		if column.PhysicalName == physical {
			return column.Name, true
		}
	}
	return "", false
}

func mapDataType(physical string) (semantic.DataType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(physical))
	if idx := strings.Index(normalized, "("); idx > 0 {
		normalized = normalized[:idx]
	}
	switch normalized {
	case "smallint", "integer", "int", "int2", "int4", "int8", "bigint", "serial", "bigserial":
		return semantic.TypeInteger, true
	case "numeric", "decimal", "real", "double precision", "float", "float4", "float8", "money":
		return semantic.TypeDecimal, true
	case "text", "varchar", "character varying", "character", "char", "uuid":
		return semantic.TypeString, true
	case "date":
		return semantic.TypeDate, true
	case "timestamp", "timestamptz", "timestamp without time zone", "timestamp with time zone":
		return semantic.TypeTimestamp, true
	case "boolean", "bool":
		return semantic.TypeBoolean, true
	default:
		return semantic.TypeString, false
	}
}

func logicalName(physical string) string {
	name := strings.ToLower(strings.TrimSpace(physical))
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func physicalName(meta introspect.TableMeta) string {
	if meta.Schema == "" {
		return meta.Name
	}
	return meta.Schema + "." + meta.Name
}

func lastPathComponent(physical string) string {
	if idx := strings.LastIndex(physical, "."); idx >= 0 {
		return physical[idx+1:]
	}
	return physical
}
