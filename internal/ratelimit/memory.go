package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps windows in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Take(_ context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := evict(s.windows[key], now.Add(-window))
	if len(ts) >= max {
		s.windows[key] = ts
		return decide(len(ts), max, ts[0], now, window, false), nil
	}
	ts = append(ts, now)
	s.windows[key] = ts
	return decide(len(ts), max, ts[0], now, window, true), nil
}

func (s *MemoryStore) Count(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := evict(s.windows[key], now.Add(-window))
	if len(ts) == 0 {
		delete(s.windows, key)
		return 0, nil
	}
	s.windows[key] = ts
	return len(ts), nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time, window time.Duration) (int, error) {
	cutoff := now.Add(-window)
	removed := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, ts := range s.windows {
		ts = evict(ts, cutoff)
		if len(ts) == 0 {
			delete(s.windows, k)
			removed++
			continue
		}
		s.windows[k] = ts
	}
	return removed, nil
}

// Len is the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// evict drops timestamps at or before cutoff. ts is ordered oldest first.
func evict(ts []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
