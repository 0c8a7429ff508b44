package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func chatServer(t *testing.T, replies []string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls >= len(replies) {
			t.Fatalf("unexpected call %d", calls)
		}
		reply := replies[calls]
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newCompleter(t *testing.T, baseURL string, retries int) *OpenAICompleter {
	t.Helper()
	completer, err := NewOpenAICompleter(OpenAIConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "test-model",
		GrammarRetries: retries,
	})
	if err != nil {
		t.Fatalf("NewOpenAICompleter() error = %v", err)
	}
	return completer
}

func TestCompleteReturnsStructuredOutput(t *testing.T) {
	server, calls := chatServer(t, []string{"```json\n{\"answer\":42}\n```"})
	completer := newCompleter(t, server.URL, 0)

	resp, err := completer.Complete(context.Background(), Request{Prompt: "question"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	var parsed map[string]int
	if err := json.Unmarshal(resp.Raw, &parsed); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if parsed["answer"] != 42 {
		t.Fatalf("answer = %d", parsed["answer"])
	}
	if *calls != 1 {
		t.Fatalf("calls = %d", *calls)
	}
}

func TestCompleteRepromptsOnGrammarViolation(t *testing.T) {
	server, calls := chatServer(t, []string{
		`{"entity":"made_up"}`,
		`{"entity":"orders"}`,
	})
	completer := newCompleter(t, server.URL, 1)

	grammar := Grammar{
		Description: "entity must be one of: orders",
		Check: func(raw json.RawMessage) error {
			var out struct {
				Entity string `json:"entity"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return err
			}
			if out.Entity != "orders" {
				return fmt.Errorf("entity %q is not allowed", out.Entity)
			}
			return nil
		},
	}

	resp, err := completer.Complete(context.Background(), Request{Prompt: "question", Grammar: grammar})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if *calls != 2 {
		t.Fatalf("calls = %d, want 2", *calls)
	}
	if string(resp.Raw) != `{"entity":"orders"}` {
		t.Fatalf("raw = %s", resp.Raw)
	}
}

func TestCompleteFailsClosedAfterRetryBudget(t *testing.T) {
	server, _ := chatServer(t, []string{
		`{"entity":"bad"}`,
		`{"entity":"worse"}`,
	})
	completer := newCompleter(t, server.URL, 1)

	grammar := Grammar{Check: func(json.RawMessage) error { return errors.New("not allowed") }}
	_, err := completer.Complete(context.Background(), Request{Prompt: "question", Grammar: grammar})

	var grammarErr *GrammarError
	if !errors.As(err, &grammarErr) {
		t.Fatalf("error = %v, want GrammarError", err)
	}
}

func TestCompleteClassifiesServerErrorsAsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	completer := newCompleter(t, server.URL, 0)

	_, err := completer.Complete(context.Background(), Request{Prompt: "question"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestStripMarkdownFence(t *testing.T) {
	got := stripMarkdownFence("```json\n{\"a\":1}\n```")
	if got != `{"a":1}` {
		t.Fatalf("stripMarkdownFence() = %q", got)
	}
}
