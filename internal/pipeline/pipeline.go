// Package pipeline orchestrates one question turn end to end: merge the
// conversation context, ground the question against the active semantic
// model, translate to a plan, validate with a bounded repair loop, and
// execute through the guard.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/semquery/semquery/internal/exec"
	"github.com/semquery/semquery/internal/ground"
	"github.com/semquery/semquery/internal/observability"
	"github.com/semquery/semquery/internal/plan"
	"github.com/semquery/semquery/internal/semantic"
	"github.com/semquery/semquery/internal/session"
	"github.com/semquery/semquery/internal/translate"
	"github.com/semquery/semquery/internal/validate"
)

// ModelSource reports the active semantic model. The registry implements
// it; tests use fakes.
type ModelSource interface {
	Active() (*semantic.Model, error)
}

// Config tunes the per-turn orchestration.
type Config struct {
	// MaxRepairAttempts bounds retranslations after a validation failure.
	MaxRepairAttempts int
	// MaxSuggestions caps the follow-up suggestions attached to answers.
	MaxSuggestions int
}

const (
	defaultMaxRepairAttempts = 2
	defaultMaxSuggestions    = 3
)

func (c Config) withDefaults() Config {
	if c.MaxRepairAttempts <= 0 {
		c.MaxRepairAttempts = defaultMaxRepairAttempts
	}
	if c.MaxSuggestions <= 0 {
		c.MaxSuggestions = defaultMaxSuggestions
	}
	return c
}

// Answer is a completed turn: the executed SQL, its explanation, the
// bounded result, and follow-up suggestions drawn from verified queries.
type Answer struct {
	SessionID   string
	SQL         string
	Explanation string
	Columns     []string
	Rows        [][]any
	Suggestions []string
	Attempts    int
	Repairs     int
}

// Pipeline wires the per-turn components together.
type Pipeline struct {
	models     ModelSource
	resolver   *ground.Resolver
	translator *translate.Translator
	guard      *exec.Guard
	sessions   *session.Store
	logger     *slog.Logger
	cfg        Config
}

func New(models ModelSource, resolver *ground.Resolver, translator *translate.Translator, guard *exec.Guard, sessions *session.Store, logger *slog.Logger, cfg Config) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		models:     models,
		resolver:   resolver,
		translator: translator,
		guard:      guard,
		sessions:   sessions,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

// Ask answers one question within the given session. An empty sessionID
// starts a fresh session; the assigned ID comes back on the answer.
func (p *Pipeline) Ask(ctx context.Context, sessionID, question string) (Answer, error) {
	start := time.Now()
	defer func() { observability.ObserveAsk(time.Since(start)) }()

	model, err := p.models.Active()
	if err != nil {
		return Answer{}, fmt.Errorf("active model: %w", err)
	}

	sess := p.sessions.Session(sessionID)

	gir, err := p.resolver.Resolve(ctx, model, question, sess.Focus())
	if err != nil {
		var ambiguous *ground.AmbiguousError
		var noMatch *ground.NoMatchError
		switch {
		case errors.As(err, &ambiguous):
			observability.IncrementAmbiguousQuestion()
		case errors.As(err, &noMatch):
			observability.IncrementNoMatchQuestion()
		}
		return Answer{SessionID: sess.ID()}, err
	}

	merged := sess.Merge(gir)

	candidate, validated, repairs, err := p.translateAndValidate(ctx, model, merged)
	if err != nil {
		return Answer{SessionID: sess.ID()}, err
	}

	outcome, err := p.guard.Run(ctx, model, validated)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			observability.ObserveExecution(execErr.Attempts, true)
		}
		return Answer{SessionID: sess.ID()}, err
	}
	observability.ObserveExecution(outcome.Attempts, false)

	sess.Commit(merged, candidate)

	p.logger.InfoContext(ctx, "question answered",
		slog.String("session_id", sess.ID()),
		slog.String("model", model.Name),
		slog.Int("model_version", model.Version),
		slog.Int("repairs", repairs),
		slog.Int("attempts", outcome.Attempts),
		slog.Int("rows", len(outcome.Result.Rows)))

	return Answer{
		SessionID:   sess.ID(),
		SQL:         outcome.SQL,
		Explanation: outcome.Explanation,
		Columns:     outcome.Result.Columns,
		Rows:        outcome.Result.Rows,
		Suggestions: suggestions(model, merged.Tables(), question, p.cfg.MaxSuggestions),
		Attempts:    outcome.Attempts,
		Repairs:     repairs,
	}, nil
}

// translateAndValidate runs the bounded repair loop: a validation failure
// feeds its structured error back into the next translation as feedback.
func (p *Pipeline) translateAndValidate(ctx context.Context, model *semantic.Model, gir ground.GIR) (plan.Plan, validate.Validated, int, error) {
	feedback := ""
	for attempt := 0; ; attempt++ {
		candidate, err := p.translator.Translate(ctx, model, gir, feedback)
		if err != nil {
			return plan.Plan{}, validate.Validated{}, attempt, err
		}
		validated, err := validate.Check(model, candidate)
		if err == nil {
			return candidate, validated, attempt, nil
		}
		var verr *validate.Error
		if !errors.As(err, &verr) || attempt >= p.cfg.MaxRepairAttempts {
			return plan.Plan{}, validate.Validated{}, attempt, err
		}
		observability.IncrementPlanRepair()
		p.logger.WarnContext(ctx, "plan rejected, retranslating",
			slog.String("kind", string(verr.Kind)),
			slog.String("element", verr.Element),
			slog.Int("attempt", attempt+1))
		feedback = verr.Error()
	}
}

// Reset closes the session and forgets its history.
func (p *Pipeline) Reset(sessionID string) {
	p.sessions.Reset(sessionID)
}

// Suggest lists verified-query questions from the active model, for
// steering a user whose question could not be grounded.
func (p *Pipeline) Suggest() ([]string, error) {
	model, err := p.models.Active()
	if err != nil {
		return nil, fmt.Errorf("active model: %w", err)
	}
	return suggestions(model, nil, "", p.cfg.MaxSuggestions), nil
}

// suggestions returns verified-query questions touching any of the given
// tables, most specific first. With no tables every verified question
// qualifies. The asked question itself is excluded.
func suggestions(model *semantic.Model, tables []string, question string, limit int) []string {
	touched := map[string]bool{}
	for _, table := range tables {
		touched[table] = true
	}

	var matched []string
	for _, vq := range model.VerifiedQueries {
		if vq.Question == "" || vq.Question == question {
			continue
		}
		if len(touched) > 0 && !plansTouch(vq.Plan, touched) {
			continue
		}
		matched = append(matched, vq.Question)
	}
	sort.Strings(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func plansTouch(p plan.Plan, tables map[string]bool) bool {
	if tables[p.From] {
		return true
	}
	for _, join := range p.Joins {
		if tables[join.Table] {
			return true
		}
	}
	return false
}
