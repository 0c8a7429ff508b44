// semquery-modelgen introspects a warehouse schema and drafts a semantic
// model artifact for human review. The draft is written to stdout or a file,
// never published directly.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/semquery/semquery/internal/config"
	"github.com/semquery/semquery/internal/introspect"
	"github.com/semquery/semquery/internal/llm"
	"github.com/semquery/semquery/internal/modelgen"
	"github.com/semquery/semquery/internal/observability"
	"github.com/semquery/semquery/internal/semantic"
)

func main() {
	modelName := flag.String("name", "", "name for the generated model (required)")
	warehouseDSN := flag.String("warehouse-dsn", "", "postgres DSN of the warehouse to introspect (required)")
	schema := flag.String("schema", "public", "warehouse schema to introspect")
	output := flag.String("out", "", "output file for the draft artifact; stdout when empty")
	schemaOnly := flag.Bool("schema-only", false, "skip LLM enrichment and emit a schema-only draft")
	flag.Parse()

	if *modelName == "" || *warehouseDSN == "" {
		fmt.Fprintln(os.Stderr, "-name and -warehouse-dsn are required")
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv("semquery-modelgen")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	db, err := sql.Open("pgx", *warehouseDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warehouse open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warehouse ping error: %v\n", err)
		os.Exit(1)
	}

	generator := &modelgen.Generator{
		Introspector: introspect.NewPostgresIntrospector(db, *schema),
		Logger:       logger,
	}
	if !*schemaOnly {
		completer, err := llm.NewOpenAICompleter(llm.OpenAIConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "language model client error: %v\n", err)
			os.Exit(1)
		}
		generator.Completer = completer
	}

	draft, err := generator.Generate(ctx, *modelName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	raw, err := semantic.Serialize(draft.Model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "serialize draft: %v\n", err)
		os.Exit(1)
	}

	if *output == "" {
		fmt.Print(string(raw))
	} else if err := os.WriteFile(*output, raw, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write draft: %v\n", err)
		os.Exit(1)
	}

	if draft.SchemaOnly {
		fmt.Fprintln(os.Stderr, "draft is schema-only; descriptions and synonyms need manual review")
	}
	for _, annotation := range draft.Annotations {
		fmt.Fprintf(os.Stderr, "review %s: %s (%s)\n", annotation.Kind, annotation.Subject, annotation.Detail)
	}
}
