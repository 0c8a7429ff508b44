package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/semquery/semquery/internal/auth"
	"github.com/semquery/semquery/internal/pipeline"
	"github.com/semquery/semquery/internal/semantic"
	"github.com/semquery/semquery/internal/semantic/registry"
)

const maxModelArtifactBytes = 4 << 20

func handleGetModel(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Models == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MODELS_NOT_CONFIGURED", "model dependencies are not configured", false, nil)
		return
	}

	model, err := deps.Models.Active()
	if err != nil {
		if errors.Is(err, registry.ErrNoActiveModel) {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "MODEL_NOT_LOADED", "no semantic model is active", true, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "internal error", true, map[string]any{"details": err.Error()})
		return
	}

	raw, err := semantic.Serialize(model)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "MODEL_SERIALIZE_FAILED", "failed to serialize active model", false, map[string]any{"details": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

type modelVersionPayload struct {
	ModelName    string `json:"model_name"`
	Version      int    `json:"version"`
	ArtifactPath string `json:"artifact_path"`
	PublishedBy  string `json:"published_by"`
	PublishedAt  string `json:"published_at"`
	Active       bool   `json:"active"`
}

func versionPayload(v registry.Version) modelVersionPayload {
	return modelVersionPayload{
		ModelName:    v.ModelName,
		Version:      v.Version,
		ArtifactPath: v.ArtifactPath,
		PublishedBy:  v.PublishedBy,
		PublishedAt:  v.PublishedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Active:       v.Active,
	}
}

func handleModelVersions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Models == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MODELS_NOT_CONFIGURED", "model dependencies are not configured", false, nil)
		return
	}

	modelName := r.URL.Query().Get("model")
	versions, err := deps.Models.Versions(r.Context(), modelName)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "VERSIONS_FAILED", "failed to list model versions", true, map[string]any{"details": err.Error()})
		return
	}

	payload := make([]modelVersionPayload, 0, len(versions))
	for _, v := range versions {
		payload = append(payload, versionPayload(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": payload})
}

func handleModelPublish(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Models == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MODELS_NOT_CONFIGURED", "model dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleModelAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxModelArtifactBytes+1))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "failed to read model artifact", false, map[string]any{"details": err.Error()})
		return
	}
	if len(raw) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "ARTIFACT_REQUIRED", "model artifact body is required", false, nil)
		return
	}
	if len(raw) > maxModelArtifactBytes {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "ARTIFACT_TOO_LARGE", "model artifact exceeds the size limit", false, nil)
		return
	}

	publishedBy := ""
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		publishedBy = identity.Subject
	}

	version, err := deps.Models.Publish(r.Context(), raw, publishedBy)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidArtifact) {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "MODEL_INVALID", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "PUBLISH_FAILED", "failed to publish model", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, versionPayload(version))
}

func handleModelVerify(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Ask == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleModelAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	results, err := deps.Ask.Verify(r.Context())
	if err != nil {
		if errors.Is(err, registry.ErrNoActiveModel) {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "MODEL_NOT_LOADED", "no semantic model is active", true, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "VERIFY_FAILED", "failed to verify the active model", true, map[string]any{"details": err.Error()})
		return
	}

	drifted := 0
	failed := 0
	for _, result := range results {
		switch result.Status {
		case pipeline.VerifyDrift:
			drifted++
		case pipeline.VerifyFailed:
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checked": len(results),
		"drifted": drifted,
		"failed":  failed,
		"results": results,
	})
}
