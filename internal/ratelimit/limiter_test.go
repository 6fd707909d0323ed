package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingStore struct{ MemoryStore }

func (*failingStore) Take(context.Context, string, time.Time, time.Duration, int) (Decision, error) {
	return Decision{}, errors.New("store down")
}

func TestLimiter_NamespacesByPolicy(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	clock := func() time.Time { return now }
	auth := NewLimiter(store, Policy{Name: "auth", Window: time.Minute, Max: 1}, WithClock(clock))
	api := NewLimiter(store, Policy{Name: "api", Window: time.Minute, Max: 1}, WithClock(clock))
	ctx := context.Background()

	if d, _ := auth.Allow(ctx, "ip:1.2.3.4"); !d.Allowed {
		t.Fatalf("first auth request allowed")
	}
	if d, _ := api.Allow(ctx, "ip:1.2.3.4"); !d.Allowed {
		t.Fatalf("api window must be independent of auth window")
	}
	if d, _ := auth.Allow(ctx, "ip:1.2.3.4"); d.Allowed {
		t.Fatalf("second auth request denied")
	}
	if n, _ := auth.Count(ctx, "ip:1.2.3.4"); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestLimiter_FailsOpen(t *testing.T) {
	l := NewLimiter(&failingStore{}, Policy{Name: "api", Window: time.Minute, Max: 5})
	d, err := l.Allow(context.Background(), "k")
	if err == nil || !d.Allowed || d.Remaining != 5 {
		t.Fatalf("store failure must admit and surface the error: %+v %v", d, err)
	}
}

func TestLimiter_ResetAfterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(NewMemoryStore(), Policy{Name: "p", Window: time.Minute, Max: 2}, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	l.Allow(ctx, "k")
	l.Allow(ctx, "k")
	if d, _ := l.Allow(ctx, "k"); d.Allowed {
		t.Fatalf("third request in window must be denied")
	}
	now = now.Add(time.Minute + time.Millisecond)
	if d, _ := l.Allow(ctx, "k"); !d.Allowed {
		t.Fatalf("request after window must be admitted")
	}
}

func TestLimiter_JanitorStopsWithContext(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	l := NewLimiter(store, Policy{Name: "p", Window: time.Millisecond, Max: 2}, WithClock(func() time.Time { return now }))
	ctx, cancel := context.WithCancel(context.Background())
	l.Allow(ctx, "k")
	now = now.Add(time.Second)
	l.StartJanitor(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for store.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if store.Len() != 0 {
		t.Fatalf("janitor did not sweep stale window")
	}
}
