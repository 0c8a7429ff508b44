package pipeline

import (
	"context"
	"fmt"

	"github.com/semquery/semquery/internal/ground"
	"github.com/semquery/semquery/internal/plan"
)

// VerifyStatus classifies one replayed verified query.
type VerifyStatus string

const (
	// VerifyOK means the question still grounds, translates, and validates
	// to the curated plan.
	VerifyOK VerifyStatus = "ok"
	// VerifyDrift means the question produces a valid plan that no longer
	// matches the curated one.
	VerifyDrift VerifyStatus = "drift"
	// VerifyFailed means grounding, translation, or validation rejects the
	// question outright.
	VerifyFailed VerifyStatus = "failed"
)

// VerifyResult reports one verified query replayed against the active model.
type VerifyResult struct {
	Name     string       `json:"name,omitempty"`
	Question string       `json:"question"`
	Status   VerifyStatus `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	WantSQL  string       `json:"want_sql,omitempty"`
	GotSQL   string       `json:"got_sql,omitempty"`
}

// Verify replays every verified query of the active model through
// grounding, translation, and validation, and reports where the answers
// have drifted from the curated plans. Nothing is executed.
func (p *Pipeline) Verify(ctx context.Context) ([]VerifyResult, error) {
	model, err := p.models.Active()
	if err != nil {
		return nil, fmt.Errorf("active model: %w", err)
	}

	renderer := plan.Renderer{Dialect: plan.DialectDuckDB, RedactLiterals: true}
	results := make([]VerifyResult, 0, len(model.VerifiedQueries))
	for _, vq := range model.VerifiedQueries {
		result := VerifyResult{Name: vq.Name, Question: vq.Question}
		if want, err := renderer.Render(vq.Plan); err != nil {
			result.Status = VerifyFailed
			result.Detail = fmt.Sprintf("curated plan does not render: %v", err)
			results = append(results, result)
			continue
		} else {
			result.WantSQL = want
		}

		gir, err := p.resolver.Resolve(ctx, model, vq.Question, ground.Focus{})
		if err != nil {
			result.Status = VerifyFailed
			result.Detail = fmt.Sprintf("grounding: %v", err)
			results = append(results, result)
			continue
		}

		candidate, _, _, err := p.translateAndValidate(ctx, model, gir)
		if err != nil {
			result.Status = VerifyFailed
			result.Detail = fmt.Sprintf("translation: %v", err)
			results = append(results, result)
			continue
		}

		got, err := renderer.Render(candidate)
		if err != nil {
			result.Status = VerifyFailed
			result.Detail = fmt.Sprintf("rendering: %v", err)
			results = append(results, result)
			continue
		}
		result.GotSQL = got
		if got == result.WantSQL {
			result.Status = VerifyOK
		} else {
			result.Status = VerifyDrift
			result.Detail = "regenerated plan differs from the curated plan"
		}
		results = append(results, result)
	}
	return results, nil
}
