package index

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

// dimShard is one lock-guarded partition of a dimension's key → subscription
// set mapping.
type dimShard struct {
	mu   sync.RWMutex
	sets map[string]map[uuid.UUID]struct{}
}

// dimension is a sharded inverted index for one criteria dimension, plus the
// set of subscriptions that leave this dimension unrestricted. A subscription
// restricted on some other dimension still matches every key here, so it
// lives in the any set instead of a keyed set.
type dimension struct {
	shards []*dimShard

	anyMu  sync.RWMutex
	anySet map[uuid.UUID]struct{}
}

func newDimension(shardCount int) *dimension {
	d := &dimension{
		shards: make([]*dimShard, shardCount),
		anySet: make(map[uuid.UUID]struct{}),
	}
	for i := range d.shards {
		d.shards[i] = &dimShard{sets: make(map[string]map[uuid.UUID]struct{})}
	}
	return d
}

func (d *dimension) shard(key string) *dimShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

// add registers sub under the given keys, or under the any set when keys is
// empty (dimension unrestricted).
func (d *dimension) add(sub uuid.UUID, keys []string) {
	if len(keys) == 0 {
		d.anyMu.Lock()
		d.anySet[sub] = struct{}{}
		d.anyMu.Unlock()
		return
	}
	for _, key := range keys {
		s := d.shard(key)
		s.mu.Lock()
		set := s.sets[key]
		if set == nil {
			set = make(map[uuid.UUID]struct{})
			s.sets[key] = set
		}
		set[sub] = struct{}{}
		s.mu.Unlock()
	}
}

// remove is the inverse of add. Emptied keyed sets are deleted outright so
// transient keys (one-off symbols) do not accumulate.
func (d *dimension) remove(sub uuid.UUID, keys []string) {
	if len(keys) == 0 {
		d.anyMu.Lock()
		delete(d.anySet, sub)
		d.anyMu.Unlock()
		return
	}
	for _, key := range keys {
		s := d.shard(key)
		s.mu.Lock()
		if set, ok := s.sets[key]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(s.sets, key)
			}
		}
		s.mu.Unlock()
	}
}

// candidates copies the union of the keyed sets and the any set. The copy
// keeps lock hold times to the set sizes and lets the caller intersect
// without holding any shard lock.
func (d *dimension) candidates(keys ...string) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{})
	for _, key := range keys {
		s := d.shard(key)
		s.mu.RLock()
		for sub := range s.sets[key] {
			out[sub] = struct{}{}
		}
		s.mu.RUnlock()
	}
	d.anyMu.RLock()
	for sub := range d.anySet {
		out[sub] = struct{}{}
	}
	d.anyMu.RUnlock()
	return out
}
