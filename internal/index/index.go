package index

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/domain"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/metrics"
)

// DefaultShardCount is used when the configured shard count is not positive.
const DefaultShardCount = 16

var bucketKeys = [11]string{"b0", "b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8", "b9", "b10"}

type subRecord struct {
	sessionID uuid.UUID
	criteria  domain.Criteria
}

type subShard struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]subRecord
}

type sessionShard struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[uuid.UUID]struct{}
}

// Index is the criteria → session-set mapping. It is safe for concurrent use;
// every mutation and query is scoped to the shards it touches.
type Index struct {
	symbols    *dimension
	categories *dimension
	tiers      *dimension
	buckets    *dimension

	// wildcard holds fully unrestricted subscriptions, subID → sessionID.
	// They match every event, so they bypass the dimension intersection.
	wildcardMu sync.RWMutex
	wildcard   map[uuid.UUID]uuid.UUID

	subShards     []*subShard
	sessionShards []*sessionShard

	count atomic.Int64
}

// New creates an index with the given shard count per dimension.
func New(shardCount int) *Index {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	ix := &Index{
		symbols:       newDimension(shardCount),
		categories:    newDimension(shardCount),
		tiers:         newDimension(shardCount),
		buckets:       newDimension(shardCount),
		wildcard:      make(map[uuid.UUID]uuid.UUID),
		subShards:     make([]*subShard, shardCount),
		sessionShards: make([]*sessionShard, shardCount),
	}
	for i := 0; i < shardCount; i++ {
		ix.subShards[i] = &subShard{subs: make(map[uuid.UUID]subRecord)}
		ix.sessionShards[i] = &sessionShard{subs: make(map[uuid.UUID]map[uuid.UUID]struct{})}
	}
	return ix
}

func shardFor(id uuid.UUID, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return int(h.Sum32() % uint32(n))
}

// Add registers a subscription. Criteria must already be normalized; Add
// never fails on well-formed input.
func (ix *Index) Add(sub domain.Subscription) {
	ss := ix.subShards[shardFor(sub.ID, len(ix.subShards))]
	ss.mu.Lock()
	if _, exists := ss.subs[sub.ID]; exists {
		ss.mu.Unlock()
		return
	}
	ss.subs[sub.ID] = subRecord{sessionID: sub.SessionID, criteria: sub.Criteria}
	ss.mu.Unlock()

	if sub.Criteria.IsWildcard() {
		ix.wildcardMu.Lock()
		ix.wildcard[sub.ID] = sub.SessionID
		ix.wildcardMu.Unlock()
	} else {
		ix.symbols.add(sub.ID, sub.Criteria.Symbols)
		ix.categories.add(sub.ID, sub.Criteria.Categories)
		ix.tiers.add(sub.ID, tierKeys(sub.Criteria))
		ix.buckets.add(sub.ID, confidenceKeys(sub.Criteria))
	}

	sess := ix.sessionShards[shardFor(sub.SessionID, len(ix.sessionShards))]
	sess.mu.Lock()
	set := sess.subs[sub.SessionID]
	if set == nil {
		set = make(map[uuid.UUID]struct{})
		sess.subs[sub.SessionID] = set
	}
	set[sub.ID] = struct{}{}
	sess.mu.Unlock()

	metrics.IndexSubscriptionsCurrent.Set(float64(ix.count.Add(1)))
}

// Remove deletes one subscription. It is idempotent: removing an unknown
// subscription returns ok=false without side effects. The removed criteria
// are returned so the caller can invalidate its routing cache.
func (ix *Index) Remove(sessionID, subID uuid.UUID) (domain.Criteria, bool) {
	ss := ix.subShards[shardFor(subID, len(ix.subShards))]
	ss.mu.Lock()
	rec, exists := ss.subs[subID]
	if !exists || rec.sessionID != sessionID {
		ss.mu.Unlock()
		return domain.Criteria{}, false
	}
	delete(ss.subs, subID)
	ss.mu.Unlock()

	ix.removeFromDimensions(subID, rec.criteria)

	sess := ix.sessionShards[shardFor(sessionID, len(ix.sessionShards))]
	sess.mu.Lock()
	if set, ok := sess.subs[sessionID]; ok {
		delete(set, subID)
		if len(set) == 0 {
			delete(sess.subs, sessionID)
		}
	}
	sess.mu.Unlock()

	metrics.IndexSubscriptionsCurrent.Set(float64(ix.count.Add(-1)))
	return rec.criteria, true
}

// RemoveSession purges every subscription owned by the session, returning the
// removed criteria for cache invalidation. Driven by the registry's
// deregistration callback, never called lazily.
func (ix *Index) RemoveSession(sessionID uuid.UUID) []domain.Criteria {
	sess := ix.sessionShards[shardFor(sessionID, len(ix.sessionShards))]
	sess.mu.Lock()
	set := sess.subs[sessionID]
	delete(sess.subs, sessionID)
	sess.mu.Unlock()

	if len(set) == 0 {
		return nil
	}

	removed := make([]domain.Criteria, 0, len(set))
	for subID := range set {
		ss := ix.subShards[shardFor(subID, len(ix.subShards))]
		ss.mu.Lock()
		rec, exists := ss.subs[subID]
		if exists {
			delete(ss.subs, subID)
		}
		ss.mu.Unlock()
		if !exists {
			continue
		}
		ix.removeFromDimensions(subID, rec.criteria)
		removed = append(removed, rec.criteria)
		metrics.IndexSubscriptionsCurrent.Set(float64(ix.count.Add(-1)))
	}

	metrics.IndexSessionPurgesTotal.Inc()
	return removed
}

func (ix *Index) removeFromDimensions(subID uuid.UUID, c domain.Criteria) {
	if c.IsWildcard() {
		ix.wildcardMu.Lock()
		delete(ix.wildcard, subID)
		ix.wildcardMu.Unlock()
		return
	}
	ix.symbols.remove(subID, c.Symbols)
	ix.categories.remove(subID, c.Categories)
	ix.tiers.remove(subID, tierKeys(c))
	ix.buckets.remove(subID, confidenceKeys(c))
}

// Query returns the session IDs whose subscriptions match the event. The
// result is exact: bucket-level candidates are verified against their stored
// criteria before inclusion.
func (ix *Index) Query(e domain.Event) []uuid.UUID {
	start := time.Now()
	defer func() {
		metrics.IndexQueryDuration.Observe(time.Since(start).Seconds())
	}()

	candidateSets := []map[uuid.UUID]struct{}{
		ix.symbols.candidates(e.Symbol),
		ix.categories.candidates(e.Category),
		ix.tiers.candidates(e.Tier),
		ix.buckets.candidates(bucketsUpTo(e.Confidence)...),
	}

	// Intersect starting from the smallest set; cost is proportional to its size.
	smallest := 0
	for i, set := range candidateSets {
		if len(set) < len(candidateSets[smallest]) {
			smallest = i
		}
	}

	sessions := make(map[uuid.UUID]struct{})
	for subID := range candidateSets[smallest] {
		inAll := true
		for i, set := range candidateSets {
			if i == smallest {
				continue
			}
			if _, ok := set[subID]; !ok {
				inAll = false
				break
			}
		}
		if !inAll {
			continue
		}

		ss := ix.subShards[shardFor(subID, len(ix.subShards))]
		ss.mu.RLock()
		rec, exists := ss.subs[subID]
		ss.mu.RUnlock()
		if exists && rec.criteria.Matches(e) {
			sessions[rec.sessionID] = struct{}{}
		}
	}

	ix.wildcardMu.RLock()
	for _, sessionID := range ix.wildcard {
		sessions[sessionID] = struct{}{}
	}
	ix.wildcardMu.RUnlock()

	out := make([]uuid.UUID, 0, len(sessions))
	for sessionID := range sessions {
		out = append(out, sessionID)
	}
	return out
}

// Size returns the number of live subscriptions.
func (ix *Index) Size() int {
	return int(ix.count.Load())
}

func tierKeys(c domain.Criteria) []string {
	if c.Tier == "" {
		return nil
	}
	return []string{c.Tier}
}

func confidenceKeys(c domain.Criteria) []string {
	if c.MinConfidence == nil {
		return nil
	}
	return []string{bucketKeys[domain.ConfidenceBucket(*c.MinConfidence)]}
}

// bucketsUpTo lists every bucket key a confidence value satisfies: a
// subscription indexed at bucket b requires at least b/10 confidence, so an
// event keys into its own bucket and all lower ones.
func bucketsUpTo(confidence float64) []string {
	top := domain.ConfidenceBucket(confidence)
	return bucketKeys[:top+1]
}
