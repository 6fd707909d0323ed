package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_AdmitsUpToMaxThenDenies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		d, err := s.Take(ctx, "k", base.Add(time.Duration(i)*time.Second), time.Minute, 3)
		if err != nil || !d.Allowed || d.Count != i || d.Remaining != 3-i {
			t.Fatalf("request %d: %+v err=%v", i, d, err)
		}
	}
	d, _ := s.Take(ctx, "k", base.Add(10*time.Second), time.Minute, 3)
	if d.Allowed || d.Remaining != 0 || d.Count != 3 {
		t.Fatalf("4th request should be denied: %+v", d)
	}
	// oldest at base+1s expires at base+61s
	if want := 51 * time.Second; d.RetryAfter != want {
		t.Fatalf("RetryAfter = %v, want %v", d.RetryAfter, want)
	}
	if n, _ := s.Count(ctx, "k", base.Add(10*time.Second), time.Minute); n != 3 {
		t.Fatalf("denied requests must not be recorded, count=%d", n)
	}
}

func TestMemoryStore_WindowSlides(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Take(ctx, "k", base, time.Minute, 2)
	s.Take(ctx, "k", base.Add(30*time.Second), time.Minute, 2)
	if d, _ := s.Take(ctx, "k", base.Add(59*time.Second), time.Minute, 2); d.Allowed {
		t.Fatalf("window still full")
	}
	// exactly one window after the first request, it is evicted
	if d, _ := s.Take(ctx, "k", base.Add(time.Minute), time.Minute, 2); !d.Allowed || d.Count != 2 {
		t.Fatalf("first slot should have freed: %+v", d)
	}
}

func TestMemoryStore_KeysAreIndependent_AndReset(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	s.Take(ctx, "a", now, time.Minute, 1)
	if d, _ := s.Take(ctx, "b", now, time.Minute, 1); !d.Allowed {
		t.Fatalf("key b must not share a's window")
	}
	if d, _ := s.Take(ctx, "a", now, time.Minute, 1); d.Allowed {
		t.Fatalf("key a should be full")
	}
	_ = s.Reset(ctx, "a")
	if d, _ := s.Take(ctx, "a", now, time.Minute, 1); !d.Allowed {
		t.Fatalf("reset should clear the window")
	}
}

func TestMemoryStore_SweepRemovesStaleKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	s.Take(ctx, "old", base, time.Minute, 5)
	s.Take(ctx, "new", base.Add(50*time.Second), time.Minute, 5)

	n, err := s.Sweep(ctx, base.Add(70*time.Second), time.Minute)
	if err != nil || n != 1 || s.Len() != 1 {
		t.Fatalf("sweep removed=%d len=%d err=%v", n, s.Len(), err)
	}
}

func TestMemoryStore_ConcurrentTakeNeverExceedsMax(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := s.Take(ctx, "k", now, time.Minute, 10)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 10 {
		t.Fatalf("allowed = %d, want 10", allowed)
	}
}
