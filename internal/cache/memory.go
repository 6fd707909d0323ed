package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore is a process-local Store bounded by MaxEntries.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]Entry
	tags       map[string]map[string]struct{} // tag -> keys
	keyTags    map[string][]string            // key -> tags, for index cleanup
	maxEntries int
	now        func() time.Time
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries bounds the number of stored entries. When full, expired
// entries are purged first, then the entry closest to expiry is evicted.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxEntries = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]Entry),
		tags:       make(map[string]map[string]struct{}),
		keyTags:    make(map[string][]string),
		maxEntries: 10000,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !e.Fresh(s.now()) {
		s.removeLocked(key)
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, e Entry, tags ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; exists {
		s.removeLocked(key)
	} else if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.makeRoomLocked()
	}
	s.entries[key] = e
	s.keyTags[key] = append([]string(nil), tags...)
	for _, t := range tags {
		set, ok := s.tags[t]
		if !ok {
			set = make(map[string]struct{})
			s.tags[t] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	s.removeLocked(key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) InvalidateTags(_ context.Context, tags ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range tags {
		for key := range s.tags[t] {
			if _, ok := s.entries[key]; ok {
				n++
			}
			s.removeLocked(key)
		}
		delete(s.tags, t)
	}
	return n, nil
}

// Purge drops expired entries and returns how many were removed.
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked()
}

// StartJanitor purges expired entries every interval until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := s.Purge(); n > 0 {
					log.Debug().Int("removed", n).Msg("cache purge")
				}
			}
		}
	}()
}

// Len is the number of stored entries, fresh or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) purgeLocked() int {
	now := s.now()
	n := 0
	for k, e := range s.entries {
		if !e.Fresh(now) {
			s.removeLocked(k)
			n++
		}
	}
	return n
}

func (s *MemoryStore) makeRoomLocked() {
	if s.purgeLocked() > 0 {
		return
	}
	var (
		victim string
		soon   time.Time
	)
	for k, e := range s.entries {
		if victim == "" || e.ExpiresAt.Before(soon) {
			victim, soon = k, e.ExpiresAt
		}
	}
	if victim != "" {
		s.removeLocked(victim)
	}
}

func (s *MemoryStore) removeLocked(key string) {
	delete(s.entries, key)
	for _, t := range s.keyTags[key] {
		if set, ok := s.tags[t]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.tags, t)
			}
		}
	}
	delete(s.keyTags, key)
}
