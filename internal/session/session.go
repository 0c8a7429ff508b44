// Package session tracks conversation state across question turns. Each
// session keeps a bounded window of recent turns plus the focus entity set
// that follow-up questions inherit from.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semquery/semquery/internal/ground"
	"github.com/semquery/semquery/internal/plan"
)

type State string

const (
	StateEmpty  State = "empty"
	StateActive State = "active"
	StateClosed State = "closed"
)

// Turn is one completed question round-trip.
type Turn struct {
	GIR  ground.GIR
	Plan plan.Plan
	At   time.Time
}

// Context is the per-session conversation state. All methods are safe for
// concurrent use.
type Context struct {
	id string

	mu       sync.Mutex
	state    State
	turns    []Turn
	maxTurns int
	focus    ground.Focus
	touched  time.Time
	now      func() time.Time
}

func (c *Context) ID() string { return c.id }

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Focus returns the entity set the latest turn established.
func (c *Context) Focus() ground.Focus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focus
}

// Turns returns the retained turn window, oldest first.
func (c *Context) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Merge folds the conversation focus into a freshly grounded GIR. Elliptical
// questions inherit whatever they leave unspecified; a question that names a
// dimension but no metric inherits the focus metrics; a fully specified
// question passes through untouched.
func (c *Context) Merge(gir ground.GIR) ground.GIR {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return gir
	}

	inheritMetrics := len(gir.Metrics) == 0 &&
		(gir.Elliptical || len(gir.Dimensions) > 0 || len(gir.Filters) > 0)
	if inheritMetrics {
		gir.Metrics = append([]ground.MetricSel(nil), c.focus.Metrics...)
	}
	if gir.Elliptical {
		if len(gir.Dimensions) == 0 {
			gir.Dimensions = append([]ground.DimensionSel(nil), c.focus.Dimensions...)
		}
		// Focus filters survive unless the new question filters the same
		// column again.
		for _, prior := range c.focus.Filters {
			replaced := false
			for _, f := range gir.Filters {
				if f.Table == prior.Table && f.Column == prior.Column {
					replaced = true
					break
				}
			}
			if !replaced {
				gir.Filters = append(gir.Filters, prior)
			}
		}
	}
	return gir
}

// Commit records a completed turn and advances the focus to its entities.
func (c *Context) Commit(gir ground.GIR, p plan.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateActive
	c.turns = append(c.turns, Turn{GIR: gir, Plan: p, At: c.now()})
	if len(c.turns) > c.maxTurns {
		c.turns = c.turns[len(c.turns)-c.maxTurns:]
	}
	c.focus = ground.Focus{
		Metrics:    append([]ground.MetricSel(nil), gir.Metrics...),
		Dimensions: append([]ground.DimensionSel(nil), gir.Dimensions...),
		Filters:    append([]ground.FilterSel(nil), gir.Filters...),
		Tables:     gir.Tables(),
	}
	c.touched = c.now()
}

func (c *Context) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	c.turns = nil
	c.focus = ground.Focus{}
}

// Store holds live sessions in memory. Sessions are transient; nothing here
// is persisted and a process restart starts every conversation over.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Context
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

const (
	defaultMaxTurns = 8
	defaultTTL      = 30 * time.Minute
)

func NewStore(maxTurns int, ttl time.Duration) *Store {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		sessions: map[string]*Context{},
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Session returns the context for id, creating one when id is empty or
// unknown. Idle sessions past the TTL are replaced with a fresh context.
func (s *Store) Session(id string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	ctx, ok := s.sessions[id]
	if ok && ctx.expired(s.ttl, s.now()) {
		ctx.close()
		ok = false
	}
	if !ok {
		ctx = &Context{id: id, state: StateEmpty, maxTurns: s.maxTurns, touched: s.now(), now: s.now}
		s.sessions[id] = ctx
	}
	return ctx
}

func (c *Context) expired(ttl time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.touched) > ttl
}

// Reset closes and removes a session. Resetting an unknown session is a
// no-op; the next question simply starts a new conversation.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx, ok := s.sessions[id]; ok {
		ctx.close()
		delete(s.sessions, id)
	}
}

// Sweep drops sessions idle past the TTL and reports how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, ctx := range s.sessions {
		if ctx.expired(s.ttl, now) {
			ctx.close()
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
