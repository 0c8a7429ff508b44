// Package maintenance runs the background housekeeping for the model
// registry and the data lake: pruning superseded model artifacts and
// verifying that the active model's storage is intact.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/semquery/semquery/internal/semantic"
	"github.com/semquery/semquery/internal/semantic/registry"
	"github.com/semquery/semquery/internal/storage"
)

// Catalog is the slice of version bookkeeping maintenance needs.
type Catalog interface {
	ListVersions(ctx context.Context, modelName string) ([]registry.Version, error)
	DeleteVersion(ctx context.Context, modelName string, version int) error
}

// ModelSource yields the currently active model for integrity checks.
type ModelSource interface {
	Active() (*semantic.Model, error)
}

type Config struct {
	RetentionInterval time.Duration
	// KeepVersions is how many inactive versions per model survive a sweep,
	// in addition to the active one.
	KeepVersions      int
	IntegrityInterval time.Duration
}

type Service struct {
	Catalog     Catalog
	ObjectStore storage.ObjectStore
	Models      ModelSource
	Config      Config
	Logger      *slog.Logger
}

type RetentionSummary struct {
	ModelsScanned   int `json:"models_scanned"`
	VersionsPruned  int `json:"versions_pruned"`
	ArtifactsPruned int `json:"artifacts_pruned"`
	Failures        int `json:"failures"`
}

type IntegritySummary struct {
	ArtifactChecked bool `json:"artifact_checked"`
	ArtifactMissing bool `json:"artifact_missing"`
	TablesChecked   int  `json:"tables_checked"`
	TablesEmpty     int  `json:"tables_empty"`
	Failures        int  `json:"failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	retentionTicker := time.NewTicker(s.Config.RetentionInterval)
	defer retentionTicker.Stop()
	integrityTicker := time.NewTicker(s.Config.IntegrityInterval)
	defer integrityTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retentionTicker.C:
			summary, err := s.RunRetentionOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "retention sweep failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "retention sweep completed", slog.Any("summary", summary))
			}
		case <-integrityTicker.C:
			summary, err := s.RunIntegrityOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "integrity check failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "integrity check completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunRetentionOnce deletes superseded model versions beyond the configured
// keep count. The active version is never touched regardless of age.
func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.Catalog == nil {
		return RetentionSummary{}, fmt.Errorf("catalog is required")
	}
	if s.ObjectStore == nil {
		return RetentionSummary{}, fmt.Errorf("object store is required")
	}

	versions, err := s.Catalog.ListVersions(ctx, "")
	if err != nil {
		return RetentionSummary{}, fmt.Errorf("list versions: %w", err)
	}

	byModel := make(map[string][]registry.Version)
	for _, v := range versions {
		byModel[v.ModelName] = append(byModel[v.ModelName], v)
	}

	summary := RetentionSummary{ModelsScanned: len(byModel)}
	failures := make([]string, 0)

	for modelName, modelVersions := range byModel {
		sort.Slice(modelVersions, func(i, j int) bool {
			return modelVersions[i].Version > modelVersions[j].Version
		})

		kept := 0
		for _, v := range modelVersions {
			if v.Active {
				continue
			}
			if kept < s.Config.KeepVersions {
				kept++
				continue
			}

			artifactPath, err := storage.ModelArtifactPath(v.ModelName, v.Version)
			if err != nil {
				summary.Failures++
				failures = append(failures, fmt.Sprintf("%s v%d path: %v", v.ModelName, v.Version, err))
				continue
			}
			if err := s.ObjectStore.Delete(ctx, artifactPath); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
				summary.Failures++
				failures = append(failures, fmt.Sprintf("%s v%d delete artifact: %v", v.ModelName, v.Version, err))
				continue
			}
			summary.ArtifactsPruned++

			if err := s.Catalog.DeleteVersion(ctx, v.ModelName, v.Version); err != nil {
				summary.Failures++
				failures = append(failures, fmt.Sprintf("%s v%d delete row: %v", v.ModelName, v.Version, err))
				continue
			}
			summary.VersionsPruned++
			versionsPrunedTotal.Inc()

			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "pruned model version",
					slog.String("model", modelName), slog.Int("version", v.Version))
			}
		}
	}

	if summary.Failures > 0 {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("retention sweep had %d failure(s): %s", summary.Failures, strings.Join(failures, "; "))
	}
	retentionRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// RunIntegrityOnce verifies the active model's artifact exists and that each
// table has at least one data file behind it.
func (s *Service) RunIntegrityOnce(ctx context.Context) (IntegritySummary, error) {
	s.ensureDefaults()
	if s.ObjectStore == nil {
		return IntegritySummary{}, fmt.Errorf("object store is required")
	}
	if s.Models == nil {
		return IntegritySummary{}, fmt.Errorf("model source is required")
	}

	model, err := s.Models.Active()
	if err != nil {
		if errors.Is(err, registry.ErrNoActiveModel) {
			integrityRunsTotal.WithLabelValues("skipped").Inc()
			return IntegritySummary{}, nil
		}
		return IntegritySummary{}, fmt.Errorf("active model: %w", err)
	}

	summary := IntegritySummary{ArtifactChecked: true}
	failures := make([]string, 0)

	artifactPath, err := storage.ModelArtifactPath(model.Name, model.Version)
	if err != nil {
		return summary, fmt.Errorf("artifact path: %w", err)
	}
	if _, err := s.ObjectStore.Stat(ctx, artifactPath); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			summary.ArtifactMissing = true
			integrityMissingObjectsTotal.Inc()
		} else {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("stat artifact: %v", err))
		}
	}

	for _, table := range model.Tables {
		summary.TablesChecked++
		prefix, err := storage.TableDataPrefix(model.Name, table.Name)
		if err != nil {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("table %s prefix: %v", table.Name, err))
			continue
		}
		objects, err := s.ObjectStore.List(ctx, prefix)
		if err != nil {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("table %s list: %v", table.Name, err))
			continue
		}
		files := 0
		for _, object := range objects {
			if strings.HasSuffix(object.Key, ".parquet") {
				files++
			}
		}
		if files == 0 {
			summary.TablesEmpty++
			integrityMissingObjectsTotal.Inc()
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "table has no data files",
					slog.String("model", model.Name), slog.String("table", table.Name))
			}
		}
	}

	if summary.Failures > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("integrity check had %d failure(s): %s", summary.Failures, strings.Join(failures, "; "))
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = time.Hour
	}
	if s.Config.KeepVersions <= 0 {
		s.Config.KeepVersions = 5
	}
	if s.Config.IntegrityInterval <= 0 {
		s.Config.IntegrityInterval = 6 * time.Hour
	}
}
