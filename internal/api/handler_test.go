package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/semquery/semquery/internal/auth"
	"github.com/semquery/semquery/internal/config"
	"github.com/semquery/semquery/internal/pipeline"
	"github.com/semquery/semquery/internal/semantic"
	"github.com/semquery/semquery/internal/semantic/registry"
)

type fakeAskService struct {
	answer      pipeline.Answer
	err         error
	suggestions []string
	resets      []string
	questions   []string
	verify      []pipeline.VerifyResult
	verifyErr   error
}

func (f *fakeAskService) Ask(_ context.Context, sessionID, question string) (pipeline.Answer, error) {
	f.questions = append(f.questions, question)
	if f.err != nil {
		return pipeline.Answer{SessionID: sessionID}, f.err
	}
	answer := f.answer
	if answer.SessionID == "" {
		answer.SessionID = sessionID
	}
	return answer, nil
}

func (f *fakeAskService) Reset(sessionID string) {
	f.resets = append(f.resets, sessionID)
}

func (f *fakeAskService) Suggest() ([]string, error) {
	return f.suggestions, nil
}

func (f *fakeAskService) Verify(_ context.Context) ([]pipeline.VerifyResult, error) {
	return f.verify, f.verifyErr
}

type fakeModelService struct {
	model      *semantic.Model
	activeErr  error
	versions   []registry.Version
	published  registry.Version
	publishErr error
	gotRaw     []byte
	gotBy      string
}

func (f *fakeModelService) Active() (*semantic.Model, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	return f.model, nil
}

func (f *fakeModelService) Versions(_ context.Context, _ string) ([]registry.Version, error) {
	return f.versions, nil
}

func (f *fakeModelService) Publish(_ context.Context, raw []byte, publishedBy string) (registry.Version, error) {
	f.gotRaw = raw
	f.gotBy = publishedBy
	if f.publishErr != nil {
		return registry.Version{}, f.publishErr
	}
	return f.published, nil
}

func testConfig(t *testing.T, overrides map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("semquery-api", mapLookup(overrides))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{
		Readiness: func(_ context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := testConfig(t, map[string]string{"SEMQUERY_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:analyst:ask_user")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	ask := &fakeAskService{answer: pipeline.Answer{SQL: "SELECT 1"}}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Ask:            ask,
	})

	body := `{"session_id": "s1", "question": "total revenue"}`
	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body)))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d, body = %s", authResp.Code, authResp.Body.String())
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := testConfig(t, map[string]string{"SEMQUERY_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{Ask: &fakeAskService{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{}`)))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["error_code"] != "AUTH_MIDDLEWARE_MISSING" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
