package features

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sibylquant/sibyl/pkg/redis"
)

// ErrFeatureUnavailable marks a failed or timed-out feature computation.
// A prediction request fails as a whole when it sees this.
var ErrFeatureUnavailable = errors.New("features: unavailable")

const sweepInterval = 1 * time.Minute

// Cache is a TTL-bounded feature store keyed by (entity, schema version).
// Concurrent misses for the same key are coalesced through singleflight so
// one computation serves every waiter; distinct keys never block each
// other. Expired entries are treated as absent — the cache never serves a
// vector past its TTL, even when recomputation fails.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry

	ttl            time.Duration
	computeTimeout time.Duration
	computer       Computer
	shared         *redis.Cache // optional cross-process tier, may be nil
	group          singleflight.Group
	log            zerolog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	stopOnce    sync.Once
}

type cacheEntry struct {
	vector   *Vector
	expireAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithSharedTier adds a redis-backed second tier so sibling replicas and
// restarts reuse warm vectors.
func WithSharedTier(shared *redis.Cache) Option {
	return func(c *Cache) {
		if shared != nil && shared.Enabled() {
			c.shared = shared
		}
	}
}

// NewCache creates a feature cache and starts its background sweeper.
func NewCache(computer Computer, ttl, computeTimeout time.Duration, log zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		entries:        make(map[string]*cacheEntry),
		ttl:            ttl,
		computeTimeout: computeTimeout,
		computer:       computer,
		log:            log.With().Str("component", "features.cache").Logger(),
		stopSweep:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.sweepTicker = time.NewTicker(sweepInterval)
	go c.sweep()

	return c
}

// Close stops the background sweeper.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopSweep)
	})
}

// GetOrCompute returns a live cached vector or computes, stores and
// returns a fresh one.
func (c *Cache) GetOrCompute(ctx context.Context, entity, schemaVersion string) (*Vector, error) {
	key := entity + "|" + schemaVersion

	if v := c.lookup(key); v != nil {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	// Coalesce concurrent misses for the same key. The winning call's
	// context drives the computation; waiters share its outcome.
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A racing winner may have already populated the entry.
		if v := c.lookup(key); v != nil {
			return v, nil
		}

		if v := c.sharedLookup(ctx, key); v != nil {
			c.store(key, v)
			return v, nil
		}

		computeCtx, cancel := context.WithTimeout(ctx, c.computeTimeout)
		defer cancel()

		v, err := c.computer.Compute(computeCtx, entity, schemaVersion)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %v", ErrFeatureUnavailable, entity, schemaVersion, err)
		}

		c.store(key, v)
		c.sharedStore(ctx, key, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Vector), nil
}

// Invalidate drops every cached vector. Called from the operator
// invalidation endpoint when upstream data or the schema version changes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Stats reports cache hit/miss counters and current size.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}

// Stats holds cache counters for the health endpoint.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// lookup returns a live entry or nil. Expired entries are absent.
func (c *Cache) lookup(key string) *Vector {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expireAt) {
		return nil
	}
	return entry.vector
}

func (c *Cache) store(key string, v *Vector) {
	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		vector:   v,
		expireAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// sharedLookup checks the redis tier. The TTL check repeats here because
// a redis entry written by a replica carries its own ComputedAt.
func (c *Cache) sharedLookup(ctx context.Context, key string) *Vector {
	if c.shared == nil {
		return nil
	}

	var v Vector
	found, err := c.shared.Get(ctx, key, &v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("shared tier read failed")
		return nil
	}
	if !found || time.Since(v.ComputedAt) > c.ttl {
		return nil
	}
	return &v
}

func (c *Cache) sharedStore(ctx context.Context, key string, v *Vector) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, key, v, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("shared tier write failed")
	}
}

// sweep periodically drops expired entries so an idle cache does not hold
// stale vectors until the next read.
func (c *Cache) sweep() {
	for {
		select {
		case <-c.sweepTicker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expireAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopSweep:
			c.sweepTicker.Stop()
			return
		}
	}
}
