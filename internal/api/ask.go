package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/semquery/semquery/internal/auth"
	"github.com/semquery/semquery/internal/exec"
	"github.com/semquery/semquery/internal/ground"
	"github.com/semquery/semquery/internal/semantic/registry"
	"github.com/semquery/semquery/internal/translate"
	"github.com/semquery/semquery/internal/validate"
)

type askRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type askResponse struct {
	SessionID   string   `json:"session_id"`
	SQL         string   `json:"sql"`
	Explanation string   `json:"explanation"`
	Columns     []string `json:"columns"`
	Rows        [][]any  `json:"rows"`
	Suggestions []string `json:"suggestions,omitempty"`
	Attempts    int      `json:"attempts"`
	Repairs     int      `json:"repairs"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Ask == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAskUser); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	answer, err := deps.Ask.Ask(r.Context(), request.SessionID, request.Question)
	if err != nil {
		writeAskError(deps, w, r, answer.SessionID, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		SessionID:   answer.SessionID,
		SQL:         answer.SQL,
		Explanation: answer.Explanation,
		Columns:     answer.Columns,
		Rows:        answer.Rows,
		Suggestions: answer.Suggestions,
		Attempts:    answer.Attempts,
		Repairs:     answer.Repairs,
	})
}

// writeAskError maps pipeline failures onto stable error codes. Questions
// the system refuses to guess about come back as 422 with enough context
// for the user to rephrase.
func writeAskError(deps Dependencies, w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	ctx := r.Context()

	var ambiguous *ground.AmbiguousError
	if errors.As(err, &ambiguous) {
		candidates := make([]map[string]any, 0, len(ambiguous.Candidates))
		for _, c := range ambiguous.Candidates {
			candidates = append(candidates, map[string]any{
				"kind":  string(c.Kind),
				"table": c.Table,
				"name":  c.Name,
			})
		}
		writeError(ctx, w, http.StatusUnprocessableEntity, "AMBIGUOUS_QUESTION", err.Error(), false, map[string]any{
			"session_id": sessionID,
			"term":       ambiguous.Term,
			"candidates": candidates,
		})
		return
	}

	var noMatch *ground.NoMatchError
	if errors.As(err, &noMatch) {
		extra := map[string]any{"session_id": sessionID}
		if suggestions, serr := deps.Ask.Suggest(); serr == nil && len(suggestions) > 0 {
			extra["suggestions"] = suggestions
		}
		writeError(ctx, w, http.StatusUnprocessableEntity, "NO_GROUNDING", err.Error(), false, extra)
		return
	}

	var noPath *translate.NoJoinPathError
	if errors.As(err, &noPath) {
		writeError(ctx, w, http.StatusUnprocessableEntity, "NO_JOIN_PATH", err.Error(), false, map[string]any{
			"session_id": sessionID,
			"from":       noPath.From,
			"to":         noPath.To,
		})
		return
	}

	if errors.Is(err, translate.ErrUnavailable) {
		writeError(ctx, w, http.StatusServiceUnavailable, "TRANSLATOR_UNAVAILABLE", "the language model is unavailable", true, nil)
		return
	}

	var verr *validate.Error
	if errors.As(err, &verr) {
		writeError(ctx, w, http.StatusUnprocessableEntity, "PLAN_INVALID", err.Error(), false, map[string]any{
			"session_id": sessionID,
			"kind":       string(verr.Kind),
			"element":    verr.Element,
		})
		return
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		status := http.StatusBadRequest
		if execErr.Transient {
			status = http.StatusServiceUnavailable
		}
		writeError(ctx, w, status, "EXECUTION_FAILED", "query execution failed", execErr.Transient, map[string]any{
			"session_id": sessionID,
			"sql":        execErr.SQL,
			"attempts":   execErr.Attempts,
		})
		return
	}

	if errors.Is(err, registry.ErrNoActiveModel) {
		writeError(ctx, w, http.StatusServiceUnavailable, "MODEL_NOT_LOADED", "no semantic model is active", true, nil)
		return
	}

	writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", true, map[string]any{"details": err.Error()})
}

type sessionResetRequest struct {
	SessionID string `json:"session_id"`
}

func handleSessionReset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Ask == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAskUser); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request sessionResetRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid reset request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SessionID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SESSION_REQUIRED", "session_id is required", false, nil)
		return
	}

	deps.Ask.Reset(request.SessionID)
	w.WriteHeader(http.StatusNoContent)
}
