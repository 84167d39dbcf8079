package modelpool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sibylquant/sibyl/internal/health"
	"github.com/sibylquant/sibyl/internal/registry"
	"github.com/sibylquant/sibyl/internal/scoring"
)

// RegistryClient is the slice of the registry client the reloader needs.
type RegistryClient interface {
	ListProductionModels(ctx context.Context) ([]registry.Entry, error)
	Fetch(ctx context.Context, ref string) (*registry.Artifact, error)
}

// ArtifactFactory builds a scorer from a fetched artifact payload.
type ArtifactFactory interface {
	New(framework string, payload json.RawMessage) (scoring.Scorer, error)
}

// Reloader pulls the current production set from the registry, loads each
// artifact, and swaps the pool to the new snapshot. Pull-based by design:
// staleness is bounded by the reload interval and the registry dependency
// stays a plain request/response client.
type Reloader struct {
	registry RegistryClient
	factory  ArtifactFactory
	pool     *Pool
	tracker  *health.Tracker
	log      zerolog.Logger
}

// NewReloader creates a reloader.
func NewReloader(reg RegistryClient, factory ArtifactFactory, pool *Pool, tracker *health.Tracker, log zerolog.Logger) *Reloader {
	return &Reloader{
		registry: reg,
		factory:  factory,
		pool:     pool,
		tracker:  tracker,
		log:      log.With().Str("component", "modelpool.reloader").Logger(),
	}
}

// Reload performs one full reload cycle. A single artifact that fails to
// fetch or parse is skipped with a warning; the reload is rejected only
// when the registry is unreachable or nothing loadable remains, and in
// both cases the previous snapshot keeps serving.
func (r *Reloader) Reload(ctx context.Context) (*Snapshot, error) {
	entries, err := r.registry.ListProductionModels(ctx)
	if err != nil {
		r.tracker.RecordFailure(err)
		return nil, err
	}

	models := make([]*Model, 0, len(entries))
	for _, e := range entries {
		artifact, err := r.registry.Fetch(ctx, e.ArtifactRef)
		if err != nil {
			r.log.Warn().
				Str("task", e.Task).
				Str("framework", e.Framework).
				Str("ref", e.ArtifactRef).
				Err(err).
				Msg("artifact fetch failed, skipping")
			continue
		}

		scorer, err := r.factory.New(e.Framework, artifact.Payload)
		if err != nil {
			r.log.Warn().
				Str("task", e.Task).
				Str("framework", e.Framework).
				Err(err).
				Msg("artifact load failed, skipping")
			continue
		}

		models = append(models, &Model{
			Key:     Key{Task: e.Task, Framework: e.Framework},
			Version: e.Version,
			Scorer:  scorer,
		})
	}

	snap, err := r.pool.Reload(models)
	if err != nil {
		err = fmt.Errorf("reload rejected: %w", err)
		r.tracker.RecordFailure(err)
		return nil, err
	}

	r.tracker.RecordSuccess(snap.Generation(), snap.Len())
	return snap, nil
}
