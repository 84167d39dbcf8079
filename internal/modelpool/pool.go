// Package modelpool holds the in-memory set of promoted models serving
// traffic. The active set is an immutable snapshot behind a single atomic
// pointer: readers never lock, the reload path builds the entire next
// snapshot aside and publishes it in one store.
package modelpool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sibylquant/sibyl/internal/scoring"
)

var (
	// ErrEmptyCandidate rejects a reload whose candidate set is empty.
	// The previous snapshot stays active.
	ErrEmptyCandidate = errors.New("modelpool: empty candidate set")

	// ErrDuplicateKey rejects a reload carrying two artifacts for the
	// same (task, framework).
	ErrDuplicateKey = errors.New("modelpool: duplicate (task, framework)")
)

// Key identifies one model slot.
type Key struct {
	Task      string
	Framework string
}

// Model is one loaded artifact bound to its slot. Immutable once loaded;
// a new version is a new Model.
type Model struct {
	Key     Key
	Version string
	Scorer  scoring.Scorer
}

// Triple is the (task, framework, version) view exposed on /models.
type Triple struct {
	Task      string `json:"task"`
	Framework string `json:"framework"`
	Version   string `json:"version"`
}

// Snapshot is one immutable, versioned view of all active models.
type Snapshot struct {
	generation uint64
	loadedAt   time.Time
	byKey      map[Key]*Model
	byTask     map[string][]*Model
}

// Generation returns the snapshot's monotonically increasing number.
func (s *Snapshot) Generation() uint64 { return s.generation }

// LoadedAt returns when the snapshot was published.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Len returns the number of loaded (task, framework) pairs.
func (s *Snapshot) Len() int { return len(s.byKey) }

// Lookup returns every model registered for a task. The returned slice
// belongs to the snapshot; callers must not modify it.
func (s *Snapshot) Lookup(task string) []*Model {
	return s.byTask[task]
}

// Triples returns all loaded models sorted by task then framework.
func (s *Snapshot) Triples() []Triple {
	triples := make([]Triple, 0, len(s.byKey))
	for key, m := range s.byKey {
		triples = append(triples, Triple{
			Task:      key.Task,
			Framework: key.Framework,
			Version:   m.Version,
		})
	}
	sort.Slice(triples, func(i, j int) bool {
		if triples[i].Task != triples[j].Task {
			return triples[i].Task < triples[j].Task
		}
		return triples[i].Framework < triples[j].Framework
	})
	return triples
}

// Pool publishes the active snapshot. Single writer (the reload path),
// many lock-free readers.
type Pool struct {
	active   atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
	log      zerolog.Logger
}

// NewPool creates a pool holding an empty generation-0 snapshot, so
// Active never returns nil.
func NewPool(log zerolog.Logger) *Pool {
	p := &Pool{
		log: log.With().Str("component", "modelpool").Logger(),
	}
	p.active.Store(&Snapshot{
		byKey:  map[Key]*Model{},
		byTask: map[string][]*Model{},
	})
	return p
}

// Active returns the snapshot currently serving traffic. Callers hold the
// same snapshot for the duration of one request so no reload is observed
// mid-request.
func (p *Pool) Active() *Snapshot {
	return p.active.Load()
}

// Reload builds a snapshot from the full candidate set and atomically
// swaps it in. An empty or inconsistent candidate set is rejected and the
// previous snapshot remains active.
func (p *Pool) Reload(models []*Model) (*Snapshot, error) {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	if len(models) == 0 {
		return nil, ErrEmptyCandidate
	}

	byKey := make(map[Key]*Model, len(models))
	byTask := make(map[string][]*Model)
	for _, m := range models {
		if _, dup := byKey[m.Key]; dup {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateKey, m.Key.Task, m.Key.Framework)
		}
		byKey[m.Key] = m
		byTask[m.Key.Task] = append(byTask[m.Key.Task], m)
	}

	prev := p.active.Load()
	next := &Snapshot{
		generation: prev.generation + 1,
		loadedAt:   time.Now(),
		byKey:      byKey,
		byTask:     byTask,
	}

	p.active.Store(next)

	p.log.Info().
		Uint64("generation", next.generation).
		Int("models", next.Len()).
		Msg("model pool snapshot published")

	return next, nil
}
