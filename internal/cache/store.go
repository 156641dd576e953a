// Package cache provides TTL caches for retrieved context, generated
// responses and embeddings.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ziadkadry99/ragbudget/internal/clock"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 32

// Entry is a cached value with its bookkeeping.
type Entry[V any] struct {
	Key       string
	Tag       string
	Payload   V
	CreatedAt time.Time
	ExpiresAt time.Time
	Hits      int64
	Size      int
}

// Expired reports whether the entry is stale at now.
func (e *Entry[V]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[V]
}

// Store is a sharded, TTL-bounded map. Each key hashes to one shard and all
// access to a shard holds its lock, so concurrent writers to the same key
// resolve last-writer-wins and readers never see a partial entry.
type Store[V any] struct {
	name   string
	ttl    time.Duration
	clock  clock.Clock
	sizeOf func(V) int
	shards []*shard[V]

	hits   atomic.Int64
	misses atomic.Int64
}

// StoreOptions configures a Store.
type StoreOptions[V any] struct {
	Name string
	// TTL applies when Put is called with a non-positive ttl.
	TTL    time.Duration
	Shards int
	Clock  clock.Clock
	// SizeOf approximates the payload footprint in bytes.
	SizeOf func(V) int
}

// NewStore creates an empty Store.
func NewStore[V any](opts StoreOptions[V]) *Store[V] {
	n := opts.Shards
	if n <= 0 {
		n = DefaultShards
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	s := &Store[V]{
		name:   opts.Name,
		ttl:    opts.TTL,
		clock:  c,
		sizeOf: opts.SizeOf,
		shards: make([]*shard[V], n),
	}
	for i := range s.shards {
		s.shards[i] = &shard[V]{entries: make(map[string]*Entry[V])}
	}
	return s
}

// Name returns the store's label.
func (s *Store[V]) Name() string { return s.name }

// TTL returns the default time-to-live.
func (s *Store[V]) TTL() time.Duration { return s.ttl }

func (s *Store[V]) shardFor(key string) *shard[V] {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Get returns the payload for key. Expired entries are removed and reported
// as misses.
func (s *Store[V]) Get(key string) (V, bool) {
	e, ok := s.Lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.Payload, true
}

// Lookup is like Get but returns a copy of the whole entry.
func (s *Store[V]) Lookup(key string) (Entry[V], bool) {
	sh := s.shardFor(key)
	now := s.clock.Now()

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if ok && e.Expired(now) {
		delete(sh.entries, key)
		ok = false
	}
	if !ok {
		sh.mu.Unlock()
		s.misses.Add(1)
		return Entry[V]{}, false
	}
	e.Hits++
	out := *e
	sh.mu.Unlock()

	s.hits.Add(1)
	return out, true
}

// Put stores v under key for ttl. A non-positive ttl uses the store default.
func (s *Store[V]) Put(key string, v V, ttl time.Duration) {
	s.PutTagged(key, "", v, ttl)
}

// PutTagged stores v under key and labels it with tag for bulk deletion.
func (s *Store[V]) PutTagged(key, tag string, v V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.clock.Now()
	e := &Entry[V]{
		Key:       key,
		Tag:       tag,
		Payload:   v,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Size:      len(key),
	}
	if s.sizeOf != nil {
		e.Size += s.sizeOf(v)
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = e
	sh.mu.Unlock()
}

// Delete removes key and reports whether it was present.
func (s *Store[V]) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.entries[key]
	delete(sh.entries, key)
	return ok
}

// DeleteTag removes every entry carrying tag and returns how many went.
func (s *Store[V]) DeleteTag(tag string) int {
	return s.deleteWhere(func(e *Entry[V], _ time.Time) bool { return e.Tag == tag })
}

// Cleanup removes all expired entries and returns how many went.
func (s *Store[V]) Cleanup() int {
	return s.deleteWhere(func(e *Entry[V], now time.Time) bool { return e.Expired(now) })
}

// Clear empties the store and resets its counters.
func (s *Store[V]) Clear() int {
	n := s.deleteWhere(func(*Entry[V], time.Time) bool { return true })
	s.hits.Store(0)
	s.misses.Store(0)
	return n
}

func (s *Store[V]) deleteWhere(match func(*Entry[V], time.Time) bool) int {
	now := s.clock.Now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if match(e, now) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Range calls fn with a copy of each live entry until fn returns false.
// Entries are copied under the shard lock; fn runs without any lock held.
func (s *Store[V]) Range(fn func(Entry[V]) bool) {
	now := s.clock.Now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		batch := make([]Entry[V], 0, len(sh.entries))
		for _, e := range sh.entries {
			if !e.Expired(now) {
				batch = append(batch, *e)
			}
		}
		sh.mu.Unlock()
		for _, e := range batch {
			if !fn(e) {
				return
			}
		}
	}
}

// Len returns the number of stored entries, expired or not.
func (s *Store[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Stats summarizes a store.
type Stats struct {
	Name      string  `json:"name"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"size_bytes"`
	SizeMB    float64 `json:"size_mb"`
}

// Stats returns the store's counters and approximate footprint.
func (s *Store[V]) Stats() Stats {
	st := Stats{Name: s.name, Hits: s.hits.Load(), Misses: s.misses.Load()}
	for _, sh := range s.shards {
		sh.mu.Lock()
		st.Entries += len(sh.entries)
		for _, e := range sh.entries {
			st.SizeBytes += int64(e.Size)
		}
		sh.mu.Unlock()
	}
	st.finish()
	return st
}

func (st *Stats) finish() {
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	st.SizeMB = float64(st.SizeBytes) / (1024 * 1024)
}

// Merge adds other's counters into st.
func (st Stats) Merge(other Stats) Stats {
	st.Hits += other.Hits
	st.Misses += other.Misses
	st.Entries += other.Entries
	st.SizeBytes += other.SizeBytes
	st.finish()
	return st
}
