// Package registry tracks published semantic model versions. The postgres
// catalog records which versions exist and which one is active; the model
// artifacts themselves live in the object store. The active model swaps
// atomically, so in-flight turns keep the version they started with.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/semquery/semquery/internal/observability"
	"github.com/semquery/semquery/internal/semantic"
	"github.com/semquery/semquery/internal/storage"
)

var (
	ErrNotFound        = errors.New("registry: version not found")
	ErrNoActiveModel   = errors.New("registry: no active model")
	ErrInvalidArtifact = errors.New("registry: invalid model artifact")
)

// Version is one published model version as recorded in the catalog.
type Version struct {
	ModelName    string
	Version      int
	ArtifactPath string
	PublishedBy  string
	PublishedAt  time.Time
	Active       bool
}

// Catalog is the version bookkeeping behind the registry.
type Catalog interface {
	HealthCheck(ctx context.Context) error
	NextVersion(ctx context.Context, modelName string) (int, error)
	// InsertVersion records v and deactivates any previously active version.
	InsertVersion(ctx context.Context, v Version) (Version, error)
	ActiveVersion(ctx context.Context) (Version, error)
	// ListVersions lists versions newest first. An empty modelName lists all.
	ListVersions(ctx context.Context, modelName string) ([]Version, error)
}

type Registry struct {
	catalog Catalog
	store   storage.ObjectStore
	logger  *slog.Logger
	active  atomic.Pointer[semantic.Model]
}

func New(catalog Catalog, store storage.ObjectStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{catalog: catalog, store: store, logger: logger}
}

// Active returns the currently active model. The returned model is shared
// and must not be mutated.
func (r *Registry) Active() (*semantic.Model, error) {
	if model := r.active.Load(); model != nil {
		return model, nil
	}
	return nil, ErrNoActiveModel
}

// Load reads the active version from the catalog and its artifact from the
// object store, then swaps it in. Called at startup and safe to call again.
func (r *Registry) Load(ctx context.Context) error {
	version, err := r.catalog.ActiveVersion(ctx)
	if errors.Is(err, ErrNotFound) {
		return ErrNoActiveModel
	}
	if err != nil {
		return fmt.Errorf("registry: active version: %w", err)
	}

	reader, err := r.store.Get(ctx, version.ArtifactPath)
	if err != nil {
		return fmt.Errorf("registry: get artifact %q: %w", version.ArtifactPath, err)
	}
	defer func() { _ = reader.Close() }()

	model, err := semantic.Load(reader)
	if err != nil {
		return fmt.Errorf("registry: load artifact %q: %w", version.ArtifactPath, err)
	}

	r.active.Store(model)
	observability.SetActiveModelVersion(model.Version)
	r.logger.InfoContext(ctx, "active model loaded",
		slog.String("model", model.Name), slog.Int("version", model.Version))
	return nil
}

// Publish validates a model artifact, assigns it the next version number,
// writes it to the object store, records it in the catalog, and makes it
// the active model.
func (r *Registry) Publish(ctx context.Context, raw []byte, publishedBy string) (Version, error) {
	model, err := semantic.LoadBytes(raw)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	number, err := r.catalog.NextVersion(ctx, model.Name)
	if err != nil {
		return Version{}, fmt.Errorf("registry: next version: %w", err)
	}
	model.Version = number

	artifact, err := semantic.Serialize(model)
	if err != nil {
		return Version{}, fmt.Errorf("registry: serialize: %w", err)
	}
	path, err := storage.ModelArtifactPath(model.Name, number)
	if err != nil {
		return Version{}, fmt.Errorf("registry: artifact path: %w", err)
	}
	if _, err := r.store.Put(ctx, path, bytes.NewReader(artifact), int64(len(artifact)), storage.PutOptions{ContentType: "application/yaml"}); err != nil {
		return Version{}, fmt.Errorf("registry: put artifact %q: %w", path, err)
	}

	version, err := r.catalog.InsertVersion(ctx, Version{
		ModelName:    model.Name,
		Version:      number,
		ArtifactPath: path,
		PublishedBy:  publishedBy,
		Active:       true,
	})
	if err != nil {
		return Version{}, fmt.Errorf("registry: record version: %w", err)
	}

	r.active.Store(model)
	observability.SetActiveModelVersion(number)
	r.logger.InfoContext(ctx, "model published",
		slog.String("model", model.Name),
		slog.Int("version", number),
		slog.String("published_by", publishedBy))
	return version, nil
}

// Versions lists published versions, newest first.
func (r *Registry) Versions(ctx context.Context, modelName string) ([]Version, error) {
	versions, err := r.catalog.ListVersions(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("registry: list versions: %w", err)
	}
	return versions, nil
}
