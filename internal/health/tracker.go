// Package health tracks process readiness for the orchestrator. State is
// written only by the reload path (and explicit operator invalidation)
// and read by health-check requests.
package health

import (
	"sync"
	"time"
)

// Status is the externally visible health state.
type Status struct {
	Status        string    `json:"status"` // ok | degraded | not_ready
	Ready         bool      `json:"ready"`
	Degraded      bool      `json:"degraded"`
	Reason        string    `json:"reason,omitempty"`
	Generation    uint64    `json:"generation"`
	Models        int       `json:"models"`
	LastReloadAt  time.Time `json:"last_reload_at,omitzero"`
	LastSuccessAt time.Time `json:"last_success_at,omitzero"`
}

// Tracker starts not-ready, becomes ready after the first successful
// reload, and stays ready through later failed reloads (they only flag
// degraded — the previous good snapshot keeps serving). Only Invalidate
// drops readiness again.
type Tracker struct {
	mu            sync.RWMutex
	ready         bool
	degraded      bool
	reason        string
	generation    uint64
	models        int
	lastReloadAt  time.Time
	lastSuccessAt time.Time
}

// NewTracker creates a tracker in the not-ready state.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordSuccess marks a successful reload and clears any degraded flag.
func (t *Tracker) RecordSuccess(generation uint64, models int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.ready = true
	t.degraded = false
	t.reason = ""
	t.generation = generation
	t.models = models
	t.lastReloadAt = now
	t.lastSuccessAt = now
}

// RecordFailure marks a failed reload attempt. Before the first success
// the tracker simply stays not-ready; after it, the service keeps serving
// and only flags degraded.
func (t *Tracker) RecordFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastReloadAt = time.Now()
	t.reason = err.Error()
	if t.ready {
		t.degraded = true
	}
}

// Invalidate is the operator path back to not-ready.
func (t *Tracker) Invalidate(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ready = false
	t.degraded = false
	t.reason = reason
}

// Ready reports whether the pool holds a good snapshot.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Current returns the full health state.
func (t *Tracker) Current() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Status{
		Ready:         t.ready,
		Degraded:      t.degraded,
		Reason:        t.reason,
		Generation:    t.generation,
		Models:        t.models,
		LastReloadAt:  t.lastReloadAt,
		LastSuccessAt: t.lastSuccessAt,
	}

	switch {
	case !t.ready:
		s.Status = "not_ready"
	case t.degraded:
		s.Status = "degraded"
	default:
		s.Status = "ok"
	}
	return s
}
