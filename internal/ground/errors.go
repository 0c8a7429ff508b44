package ground

import (
	"fmt"
	"strings"
)

// Candidate is one possible grounding for a question term. Candidates are
// surfaced in ambiguity errors so callers can ask the user to choose.
type Candidate struct {
	Kind  EntityKind `json:"kind"`
	Table string     `json:"table"`
	Name  string     `json:"name"`
	Score float64    `json:"score"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.Name)
}

// AmbiguousError reports a term with multiple equally plausible groundings
// after every tie-break was exhausted. The resolver never picks one
// arbitrarily.
type AmbiguousError struct {
	Term       string
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.String()
	}
	return fmt.Sprintf("term %q is ambiguous between %s", e.Term, strings.Join(names, ", "))
}

// NoMatchError reports a term with zero candidate entities in the model.
type NoMatchError struct {
	Term string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("term %q does not match any table, column, or metric in the semantic model", e.Term)
}
