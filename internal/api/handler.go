package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semquery/semquery/internal/auth"
	"github.com/semquery/semquery/internal/config"
	"github.com/semquery/semquery/internal/observability"
	"github.com/semquery/semquery/internal/pipeline"
	"github.com/semquery/semquery/internal/semantic"
	"github.com/semquery/semquery/internal/semantic/registry"
)

type ReadinessCheck func(ctx context.Context) error

// AskService answers questions. Implemented by pipeline.Pipeline.
type AskService interface {
	Ask(ctx context.Context, sessionID, question string) (pipeline.Answer, error)
	Reset(sessionID string)
	Suggest() ([]string, error)
	Verify(ctx context.Context) ([]pipeline.VerifyResult, error)
}

// ModelService exposes the model registry. Implemented by registry.Registry.
type ModelService interface {
	Active() (*semantic.Model, error)
	Versions(ctx context.Context, modelName string) ([]registry.Version, error)
	Publish(ctx context.Context, raw []byte, publishedBy string) (registry.Version, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Ask               AskService
	Models            ModelService
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	protected.HandleFunc("POST /v1/sessions/reset", func(w http.ResponseWriter, r *http.Request) {
		handleSessionReset(deps, w, r)
	})
	protected.HandleFunc("GET /v1/model", func(w http.ResponseWriter, r *http.Request) {
		handleGetModel(deps, w, r)
	})
	protected.HandleFunc("GET /v1/model/versions", func(w http.ResponseWriter, r *http.Request) {
		handleModelVersions(deps, w, r)
	})
	protected.HandleFunc("POST /v1/model/publish", func(w http.ResponseWriter, r *http.Request) {
		handleModelPublish(deps, w, r)
	})
	protected.HandleFunc("POST /v1/model/verify", func(w http.ResponseWriter, r *http.Request) {
		handleModelVerify(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/ask", protectedHandler)
	mux.Handle("POST /v1/sessions/reset", protectedHandler)
	mux.Handle("GET /v1/model", protectedHandler)
	mux.Handle("GET /v1/model/versions", protectedHandler)
	mux.Handle("POST /v1/model/publish", protectedHandler)
	mux.Handle("POST /v1/model/verify", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckRegistryDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Registry.DSN == "" {
			return errors.New("registry dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
