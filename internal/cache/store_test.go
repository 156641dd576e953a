package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ziadkadry99/ragbudget/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(c clock.Clock) *Store[map[string]string] {
	return NewStore(StoreOptions[map[string]string]{
		Name:   "test",
		TTL:    time.Minute,
		Shards: 4,
		Clock:  c,
		SizeOf: func(m map[string]string) int { return len(m["text"]) },
	})
}

func TestStoreRoundTripAndExpiry(t *testing.T) {
	fc := clock.Fake(epoch)
	s := newTestStore(fc)

	s.Put("s1:hello", map[string]string{"text": "hi"}, time.Second)
	got, ok := s.Get("s1:hello")
	if !ok || got["text"] != "hi" {
		t.Fatalf("immediate get: got %v, %v", got, ok)
	}

	fc.Advance(1100 * time.Millisecond)
	if _, ok := s.Get("s1:hello"); ok {
		t.Fatal("expected miss after ttl")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry not removed, len = %d", s.Len())
	}
}

func TestStoreExpiresExactlyAtDeadline(t *testing.T) {
	fc := clock.Fake(epoch)
	s := newTestStore(fc)
	s.Put("k", map[string]string{}, time.Second)
	fc.Advance(time.Second)
	if _, ok := s.Get("k"); ok {
		t.Error("entry should be expired at created_at + ttl")
	}
}

func TestStoreDefaultTTL(t *testing.T) {
	fc := clock.Fake(epoch)
	s := newTestStore(fc)
	s.Put("k", map[string]string{}, 0)

	e, ok := s.Lookup("k")
	if !ok {
		t.Fatal("missing entry")
	}
	if want := epoch.Add(time.Minute); !e.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", e.ExpiresAt, want)
	}
	if !e.CreatedAt.Equal(epoch) {
		t.Errorf("created_at = %v, want %v", e.CreatedAt, epoch)
	}
}

func TestStoreOverwriteResetsTimestamps(t *testing.T) {
	fc := clock.Fake(epoch)
	s := newTestStore(fc)
	s.Put("k", map[string]string{"text": "old"}, time.Second)
	fc.Advance(900 * time.Millisecond)
	s.Put("k", map[string]string{"text": "new"}, time.Second)
	fc.Advance(900 * time.Millisecond)

	got, ok := s.Get("k")
	if !ok || got["text"] != "new" {
		t.Errorf("got %v, %v; want new value still live", got, ok)
	}
}

func TestStoreHitsAndStats(t *testing.T) {
	s := newTestStore(clock.Fake(epoch))
	s.Put("a", map[string]string{"text": "12345"}, 0)

	s.Get("a")
	s.Get("a")
	s.Get("missing")

	e, _ := s.Lookup("a")
	if e.Hits != 3 {
		t.Errorf("entry hits = %d, want 3", e.Hits)
	}

	st := s.Stats()
	if st.Hits != 3 || st.Misses != 1 {
		t.Errorf("stats hits/misses = %d/%d, want 3/1", st.Hits, st.Misses)
	}
	if st.HitRate != 0.75 {
		t.Errorf("hit rate = %.2f, want 0.75", st.HitRate)
	}
	if st.Entries != 1 || st.SizeBytes != int64(len("a")+5) {
		t.Errorf("entries=%d size=%d", st.Entries, st.SizeBytes)
	}
}

func TestStoreCleanup(t *testing.T) {
	fc := clock.Fake(epoch)
	s := newTestStore(fc)
	for i := 0; i < 10; i++ {
		ttl := time.Second
		if i%2 == 0 {
			ttl = time.Hour
		}
		s.Put(fmt.Sprintf("k%d", i), map[string]string{}, ttl)
	}
	fc.Advance(2 * time.Second)

	if n := s.Cleanup(); n != 5 {
		t.Errorf("Cleanup removed %d, want 5", n)
	}
	if s.Len() != 5 {
		t.Errorf("len = %d, want 5", s.Len())
	}
	if n := s.Cleanup(); n != 0 {
		t.Errorf("second Cleanup removed %d, want 0", n)
	}
}

func TestStoreDeleteTagAndRange(t *testing.T) {
	s := newTestStore(clock.Fake(epoch))
	s.PutTagged("a", "s1", map[string]string{}, 0)
	s.PutTagged("b", "s1", map[string]string{}, 0)
	s.PutTagged("c", "s2", map[string]string{}, 0)

	seen := 0
	s.Range(func(Entry[map[string]string]) bool { seen++; return true })
	if seen != 3 {
		t.Errorf("Range visited %d, want 3", seen)
	}

	if n := s.DeleteTag("s1"); n != 2 {
		t.Errorf("DeleteTag removed %d, want 2", n)
	}
	if _, ok := s.Get("c"); !ok {
		t.Error("other tag should survive")
	}
	if !s.Delete("c") || s.Delete("c") {
		t.Error("Delete should report presence once")
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(StoreOptions[int]{TTL: time.Minute})
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", i%20)
				s.Put(key, g, 0)
				s.Get(key)
				if i%100 == 0 {
					s.Cleanup()
					s.Stats()
				}
			}
		}(g)
	}
	wg.Wait()

	if s.Len() != 20 {
		t.Errorf("len = %d, want 20", s.Len())
	}
	st := s.Stats()
	if st.Hits+st.Misses != 16*500 {
		t.Errorf("lookups = %d, want %d", st.Hits+st.Misses, 16*500)
	}
}
