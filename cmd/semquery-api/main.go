package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/semquery/semquery/internal/api"
	"github.com/semquery/semquery/internal/auth"
	"github.com/semquery/semquery/internal/config"
	"github.com/semquery/semquery/internal/exec"
	duckdbengine "github.com/semquery/semquery/internal/exec/duckdb"
	"github.com/semquery/semquery/internal/ground"
	"github.com/semquery/semquery/internal/llm"
	"github.com/semquery/semquery/internal/maintenance"
	"github.com/semquery/semquery/internal/observability"
	"github.com/semquery/semquery/internal/pipeline"
	"github.com/semquery/semquery/internal/semantic/registry"
	registrypostgres "github.com/semquery/semquery/internal/semantic/registry/postgres"
	"github.com/semquery/semquery/internal/session"
	s3store "github.com/semquery/semquery/internal/storage/s3"
	"github.com/semquery/semquery/internal/translate"
)

func main() {
	cfg, err := config.LoadFromEnv("semquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	registryDB, err := registrypostgres.Open(context.Background(), registrypostgres.DBConfig{
		DSN:             cfg.Registry.DSN,
		MaxOpenConns:    cfg.Registry.MaxOpenConns,
		MaxIdleConns:    cfg.Registry.MaxIdleConns,
		ConnMaxIdleTime: cfg.Registry.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Registry.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open registry db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = registryDB.Close() }()

	catalog := registrypostgres.NewCatalog(registryDB)
	objectStore, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	models := registry.New(catalog, objectStore, logger)
	if err := models.Load(context.Background()); err != nil {
		if errors.Is(err, registry.ErrNoActiveModel) {
			logger.Warn("no active semantic model, publish one to start answering questions")
		} else {
			logger.Error("failed to load active model", slog.Any("error", err))
			os.Exit(1)
		}
	}

	completer, err := llm.NewOpenAICompleter(llm.OpenAIConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize language model client", slog.Any("error", err))
		os.Exit(1)
	}

	resolver := ground.NewResolver(completer, logger, ground.Config{
		MinConfidence: cfg.Pipeline.MinConfidence,
	})
	translator := translate.NewTranslator(completer, logger)
	guard := exec.NewGuard(
		duckdbengine.NewEngine(objectStore),
		exec.NewStoreFiles(objectStore),
		logger,
		exec.GuardConfig{
			Timeout:     cfg.Execution.Timeout,
			MaxAttempts: cfg.Execution.MaxAttempts,
			BaseBackoff: cfg.Execution.BaseBackoff,
			RowLimit:    cfg.Execution.RowLimit,
		},
	)
	sessions := session.NewStore(cfg.Pipeline.ContextTurns, cfg.Pipeline.SessionTTL)
	ask := pipeline.New(models, resolver, translator, guard, sessions, logger, pipeline.Config{
		MaxRepairAttempts: cfg.Pipeline.MaxRepairAttempts,
		MaxSuggestions:    cfg.Pipeline.MaxSuggestions,
	})

	deps := api.Dependencies{
		Logger: logger,
		Ask:    ask,
		Models: models,
		Readiness: api.CombineReadinessChecks(
			catalog.HealthCheck,
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	housekeeping := &maintenance.Service{
		Catalog:     catalog,
		ObjectStore: objectStore,
		Models:      models,
		Config: maintenance.Config{
			RetentionInterval: cfg.Maintenance.RetentionInterval,
			KeepVersions:      cfg.Maintenance.KeepVersions,
			IntegrityInterval: cfg.Maintenance.IntegrityInterval,
		},
		Logger: logger,
	}
	go func() {
		if err := housekeeping.Run(ctx); err != nil {
			logger.Error("maintenance loop stopped", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
