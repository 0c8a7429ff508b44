// semquery-seed stages a deterministic demo dataset in the object store and
// publishes the matching semantic model through the registry.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/semquery/semquery/internal/config"
	"github.com/semquery/semquery/internal/demo/seed"
	"github.com/semquery/semquery/internal/observability"
	"github.com/semquery/semquery/internal/semantic/registry"
	registrypostgres "github.com/semquery/semquery/internal/semantic/registry/postgres"
	s3store "github.com/semquery/semquery/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("semquery-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	seedCfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registryDB, err := registrypostgres.Open(ctx, registrypostgres.DBConfig{
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

	objectStore, err := s3store.New(ctx, s3store.Config{
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

	models := registry.New(registrypostgres.NewCatalog(registryDB), objectStore, logger)
	seeder := &seed.Seeder{Store: objectStore, Publisher: models, Logger: logger}

	version, err := seeder.Run(ctx, seedCfg)
	if err != nil {
		logger.Error("seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seeding complete",
		slog.String("model", version.ModelName), slog.Int("version", version.Version))
}
