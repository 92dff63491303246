// Package router converts one incoming event into a delivery plan, memoizing
// repeated criteria shapes in a short-lived routing cache.
//
// Cached session sets are candidates only: liveness is revalidated by the
// broadcaster at dispatch time. Entries move absent → cached →
// (expired | invalidated) → absent; an invalidated entry is removed outright,
// never served stale.
package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/domain"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/index"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/metrics"
)

var bucketKeys = [11]string{"b0", "b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8", "b9", "b10"}

type cacheEntry struct {
	sessions []uuid.UUID
	expires  time.Time
	dimKeys  []string
}

// Router owns the routing cache. All methods are safe for concurrent use.
type Router struct {
	index *index.Index
	clock clockwork.Clock
	ttl   time.Duration

	// cacheEnabled false bypasses the cache entirely; used by the
	// differential tests and as an operational escape hatch.
	cacheEnabled bool

	mu      sync.Mutex
	entries map[string]cacheEntry
	// byDim maps a dimension key (s:SYM, c:cat, t:tier, b0..b10) to the
	// signatures registered under it, so invalidation clears by dimension
	// instead of reconstructing signatures.
	byDim map[string]map[string]struct{}

	// generation increments on every invalidation. A computed result is only
	// stored if no invalidation happened while it was being computed, so the
	// cache never resurrects a pre-churn session set.
	generation atomic.Uint64

	group singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a router over the given index. ttl bounds how long a routing
// decision may be reused; a non-positive ttl disables the cache.
func New(ix *index.Index, clock clockwork.Clock, ttl time.Duration) *Router {
	return &Router{
		index:        ix,
		clock:        clock,
		ttl:          ttl,
		cacheEnabled: ttl > 0,
		entries:      make(map[string]cacheEntry),
		byDim:        make(map[string]map[string]struct{}),
	}
}

// Route returns the candidate session set for the event.
func (rt *Router) Route(e domain.Event) []uuid.UUID {
	start := rt.clock.Now()
	defer func() {
		metrics.RouterRouteDuration.Observe(rt.clock.Since(start).Seconds())
	}()

	if !rt.cacheEnabled {
		return rt.index.Query(e)
	}

	sig := e.Signature()

	rt.mu.Lock()
	entry, ok := rt.entries[sig]
	if ok && rt.clock.Now().Before(entry.expires) {
		rt.mu.Unlock()
		rt.hits.Add(1)
		metrics.RouterCacheHitsTotal.Inc()
		return entry.sessions
	}
	if ok {
		rt.removeEntryLocked(sig)
	}
	rt.mu.Unlock()

	rt.misses.Add(1)
	metrics.RouterCacheMissesTotal.Inc()

	gen := rt.generation.Load()
	v, _, _ := rt.group.Do(sig, func() (any, error) {
		return rt.index.Query(e), nil
	})
	sessions := v.([]uuid.UUID)

	// Only memoize if no subscription churn raced the computation.
	if rt.generation.Load() == gen {
		rt.store(sig, e, sessions)
	}
	return sessions
}

func (rt *Router) store(sig string, e domain.Event, sessions []uuid.UUID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	dimKeys := signatureDimKeys(e)
	rt.entries[sig] = cacheEntry{sessions: sessions, expires: rt.clock.Now().Add(rt.ttl), dimKeys: dimKeys}
	for _, key := range dimKeys {
		set := rt.byDim[key]
		if set == nil {
			set = make(map[string]struct{})
			rt.byDim[key] = set
		}
		set[sig] = struct{}{}
	}
	metrics.RouterCacheEntries.Set(float64(len(rt.entries)))
}

// Invalidate removes cache entries whose signature could be affected by a
// subscription with the given criteria. Clearing is by dimension key:
// slightly larger footprint than exact signature reconstruction, but O(1)
// per key. Wildcard criteria can match any signature and purge everything.
func (rt *Router) Invalidate(c domain.Criteria) {
	if !rt.cacheEnabled {
		return
	}
	if c.IsWildcard() {
		rt.InvalidateAll()
		return
	}

	rt.generation.Add(1)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch {
	case len(c.Symbols) > 0:
		for _, s := range c.Symbols {
			rt.clearDimLocked("s:" + s)
		}
	case len(c.Categories) > 0:
		for _, cat := range c.Categories {
			rt.clearDimLocked("c:" + cat)
		}
	case c.Tier != "":
		rt.clearDimLocked("t:" + c.Tier)
	case c.MinConfidence != nil:
		// A min-confidence subscription matches every signature at or above
		// its bucket.
		for b := domain.ConfidenceBucket(*c.MinConfidence); b <= 10; b++ {
			rt.clearDimLocked(bucketKeys[b])
		}
	}
	metrics.RouterCacheInvalidationsTotal.WithLabelValues("dimension").Inc()
	metrics.RouterCacheEntries.Set(float64(len(rt.entries)))
}

// InvalidateAll purges every cache entry.
func (rt *Router) InvalidateAll() {
	if !rt.cacheEnabled {
		return
	}
	rt.generation.Add(1)

	rt.mu.Lock()
	rt.entries = make(map[string]cacheEntry)
	rt.byDim = make(map[string]map[string]struct{})
	rt.mu.Unlock()

	metrics.RouterCacheInvalidationsTotal.WithLabelValues("full").Inc()
	metrics.RouterCacheEntries.Set(0)
}

func (rt *Router) clearDimLocked(key string) {
	for sig := range rt.byDim[key] {
		rt.removeEntryLocked(sig)
	}
	delete(rt.byDim, key)
}

func (rt *Router) removeEntryLocked(sig string) {
	entry, ok := rt.entries[sig]
	if !ok {
		return
	}
	delete(rt.entries, sig)
	for _, key := range entry.dimKeys {
		if set, exists := rt.byDim[key]; exists {
			delete(set, sig)
			if len(set) == 0 {
				delete(rt.byDim, key)
			}
		}
	}
}

// Entries returns the current cache entry count.
func (rt *Router) Entries() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.entries)
}

// HitRatio reports cache hits over total lookups, 0 when no lookups happened.
func (rt *Router) HitRatio() float64 {
	hits := rt.hits.Load()
	total := hits + rt.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// StartEviction scans for expired entries on the given interval until ctx is
// cancelled. Route also drops expired entries lazily; the timer just keeps
// idle signatures from pinning memory.
func (rt *Router) StartEviction(ctx context.Context, interval time.Duration) {
	if !rt.cacheEnabled {
		return
	}
	go func() {
		ticker := rt.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				rt.evictExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (rt *Router) evictExpired() {
	now := rt.clock.Now()
	rt.mu.Lock()
	for sig, entry := range rt.entries {
		if !now.Before(entry.expires) {
			rt.removeEntryLocked(sig)
		}
	}
	metrics.RouterCacheEntries.Set(float64(len(rt.entries)))
	rt.mu.Unlock()
}

func signatureDimKeys(e domain.Event) []string {
	return []string{
		"s:" + e.Symbol,
		"c:" + e.Category,
		"t:" + e.Tier,
		bucketKeys[domain.ConfidenceBucket(e.Confidence)],
	}
}
