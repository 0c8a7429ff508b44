package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/semquery/semquery/internal/plan"
	"github.com/semquery/semquery/internal/semantic"
	"github.com/semquery/semquery/internal/validate"
)

// GuardConfig tunes the execution guard.
type GuardConfig struct {
	// Timeout bounds one execution attempt.
	Timeout time.Duration
	// MaxAttempts bounds the whole request including retries.
	MaxAttempts int
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
	// RowLimit caps the result set when the plan carries no limit.
	RowLimit int
}

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 250 * time.Millisecond
	defaultRowLimit    = 1000
)

func (c GuardConfig) withDefaults() GuardConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBackoff
	}
	if c.RowLimit <= 0 {
		c.RowLimit = defaultRowLimit
	}
	return c
}

// Outcome is a successful guarded execution.
type Outcome struct {
	SQL         string
	RedactedSQL string
	Explanation string
	Result      Result
	Attempts    int
}

// Guard renders validated plans and executes them with retries. It accepts
// only validate.Validated values, so unvalidated plans cannot reach a
// database through it.
type Guard struct {
	executor Executor
	files    FileSource
	logger   *slog.Logger
	cfg      GuardConfig
	sleep    func(context.Context, time.Duration) error
}

func NewGuard(executor Executor, files FileSource, logger *slog.Logger, cfg GuardConfig) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		executor: executor,
		files:    files,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run renders and executes a validated plan against model. Transient
// failures are retried with exponential backoff up to the attempt budget;
// terminal failures stop immediately.
func (g *Guard) Run(ctx context.Context, model *semantic.Model, validated validate.Validated) (Outcome, error) {
	p := validated.Plan

	renderer := plan.Renderer{
		Dialect:        plan.DialectDuckDB,
		PhysicalTable:  model.PhysicalTable,
		PhysicalColumn: model.PhysicalColumn,
	}
	sqlText, err := renderer.Render(p)
	if err != nil {
		return Outcome{}, fmt.Errorf("exec: render: %w", err)
	}
	renderer.RedactLiterals = true
	redacted, err := renderer.Render(p)
	if err != nil {
		return Outcome{}, fmt.Errorf("exec: render redacted: %w", err)
	}

	files, err := g.files.TableFiles(ctx, model.Name, p.Tables())
	if err != nil {
		return Outcome{}, fmt.Errorf("exec: resolve table files: %w", err)
	}
	// The rendered SQL scans physical identifiers, so the executor must
	// expose each table's data under its physical name.
	for i := range files {
		files[i].PhysicalName = model.PhysicalTable(files[i].TableName)
	}

	rowLimit := g.cfg.RowLimit
	if p.Limit > 0 && p.Limit < rowLimit {
		rowLimit = p.Limit
	}
	request := Request{SQL: sqlText, RowLimit: rowLimit, Files: files}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		result, err := g.executor.Execute(attemptCtx, request)
		cancel()
		if err == nil {
			return Outcome{
				SQL:         sqlText,
				RedactedSQL: redacted,
				Explanation: p.Summary(),
				Result:      result,
				Attempts:    attempt,
			}, nil
		}
		lastErr = err
		if !Transient(err) {
			return Outcome{}, &Error{Transient: false, Attempts: attempt, SQL: redacted, Err: err}
		}
		if attempt == g.cfg.MaxAttempts {
			break
		}
		backoff := g.cfg.BaseBackoff << (attempt - 1)
		g.logger.WarnContext(ctx, "query attempt failed, retrying",
			"attempt", attempt, "backoff", backoff, "error", err)
		if err := g.sleep(ctx, backoff); err != nil {
			return Outcome{}, &Error{Transient: true, Attempts: attempt, SQL: redacted, Err: err}
		}
	}
	return Outcome{}, &Error{Transient: true, Attempts: g.cfg.MaxAttempts, SQL: redacted, Err: lastErr}
}

// Transient reports whether an execution failure is worth retrying. The
// caller's own cancellation is never transient.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporarily unavailable",
		"timeout",
		"too many open files",
		"i/o error",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
