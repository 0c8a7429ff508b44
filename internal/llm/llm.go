// Package llm defines the language-model collaborator boundary. The model is
// an opaque completion service; every caller supplies an output grammar and
// must never execute or trust free-text output that escapes it.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailable marks collaborator outages (network, timeout, 5xx). Callers
// that have no safe fallback must surface a terminal error; callers with a
// degraded mode (the model generator) may fall back instead.
var ErrUnavailable = errors.New("llm: collaborator unavailable")

// GrammarError reports output that violated the request grammar after the
// bounded re-prompt budget was spent.
type GrammarError struct {
	Detail string
}

func (e *GrammarError) Error() string {
	return "llm: output violates grammar: " + e.Detail
}

// Grammar describes the only output shape a completion may produce.
// Description is injected into the prompt; Check rejects violating output.
type Grammar struct {
	Description string
	Check       func(raw json.RawMessage) error
}

type Request struct {
	System  string
	Prompt  string
	Grammar Grammar
}

type Response struct {
	Raw      json.RawMessage
	Provider string
	Model    string
}

// Completer is the single call contract with the collaborator. Complete
// returns the structured output or a failure; implementations re-prompt a
// bounded number of times when output violates the grammar before giving up
// with a GrammarError.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// CheckGrammar applies the request grammar to raw output.
func CheckGrammar(g Grammar, raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty output")
	}
	if !json.Valid(raw) {
		return fmt.Errorf("output is not valid JSON")
	}
	if g.Check != nil {
		return g.Check(raw)
	}
	return nil
}
