package cache

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestKey_NormalizesPathAndQuery(t *testing.T) {
	a := Key("get", "/api/books/", url.Values{"page": {"1"}, "category": {"sci-fi"}})
	b := Key("GET", "/api//books", url.Values{"category": {"sci-fi"}, "page": {"1"}})
	if a != b {
		t.Fatalf("equivalent requests must share a key: %q vs %q", a, b)
	}
	if a != "GET /api/books?category=sci-fi&page=1" {
		t.Fatalf("unexpected key %q", a)
	}
	if Key("GET", "/api/books", nil) != "GET /api/books" {
		t.Fatalf("no-query key mismatch")
	}
	if Key("GET", "/api/books", url.Values{"page": {"2"}}) == a {
		t.Fatalf("different query must differ")
	}
}

func entry(now time.Time, ttl time.Duration, body string) Entry {
	return Entry{Status: 200, ContentType: "application/json", Body: []byte(body), ETag: `W/"x"`, StoredAt: now, ExpiresAt: now.Add(ttl)}
}

func TestMemoryStore_GetSetExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("empty store should miss")
	}
	_ = s.Set(ctx, "k", entry(now, time.Minute, `{"a":1}`), "books")
	e, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(e.Body) != `{"a":1}` {
		t.Fatalf("expected hit, got %v %v %+v", ok, err, e)
	}
	now = now.Add(time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("entry must expire at ExpiresAt")
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry should be dropped on read")
	}
}

func TestMemoryStore_InvalidateTags(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	_ = s.Set(ctx, "GET /api/books", entry(now, time.Minute, "1"), "books")
	_ = s.Set(ctx, "GET /api/books/1", entry(now, time.Minute, "2"), "books")
	_ = s.Set(ctx, "GET /api/books/1/reviews", entry(now, time.Minute, "3"), "reviews", "books")
	_ = s.Set(ctx, "GET /api/categories", entry(now, time.Minute, "4"), "categories")

	n, err := s.InvalidateTags(ctx, "books")
	if err != nil || n != 3 {
		t.Fatalf("invalidated %d, err %v", n, err)
	}
	if _, ok, _ := s.Get(ctx, "GET /api/categories"); !ok {
		t.Fatalf("other families must survive")
	}
	if n, _ := s.InvalidateTags(ctx, "reviews"); n != 0 {
		t.Fatalf("reviews index should have been cleaned with the entry, got %d", n)
	}
}

func TestMemoryStore_OverwriteReindexes(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	_ = s.Set(ctx, "k", entry(now, time.Minute, "1"), "a")
	_ = s.Set(ctx, "k", entry(now, time.Minute, "2"), "b")
	if n, _ := s.InvalidateTags(ctx, "a"); n != 0 {
		t.Fatalf("old tag must no longer reference key")
	}
	if n, _ := s.InvalidateTags(ctx, "b"); n != 1 {
		t.Fatalf("new tag must reference key")
	}
}

func TestMemoryStore_MaxEntriesEvicts(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(WithMaxEntries(2), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	_ = s.Set(ctx, "soon", entry(now, time.Second, "1"))
	_ = s.Set(ctx, "late", entry(now, time.Hour, "2"))
	_ = s.Set(ctx, "new", entry(now, time.Minute, "3"))
	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
	if _, ok, _ := s.Get(ctx, "soon"); ok {
		t.Fatalf("entry closest to expiry should be evicted")
	}
}

func TestMemoryStore_Purge(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	_ = s.Set(ctx, "a", entry(now, time.Second, "1"), "t")
	_ = s.Set(ctx, "b", entry(now, time.Hour, "2"), "t")
	now = now.Add(2 * time.Second)
	if n := s.Purge(); n != 1 || s.Len() != 1 {
		t.Fatalf("purge removed %d, len %d", n, s.Len())
	}
}

func TestMemoryStore_JanitorPurgesUntilCanceled(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(WithClock(func() time.Time { return now }))
	ctx, cancel := context.WithCancel(context.Background())
	_ = s.Set(ctx, "a", entry(now, time.Second, "1"), "t")
	_ = s.Set(ctx, "b", entry(now, time.Hour, "2"), "t")
	now = now.Add(2 * time.Second)
	s.StartJanitor(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for s.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if s.Len() != 1 {
		t.Fatalf("janitor left %d entries, want 1", s.Len())
	}
	if _, ok, _ := s.Get(context.Background(), "b"); !ok {
		t.Fatalf("fresh entry purged")
	}
}

func TestRedisStore_RoundTripAndInvalidate(t *testing.T) {
	raw := os.Getenv("REDIS_URL")
	if raw == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client, "test:"+uuid.NewString()+":")
	ctx := context.Background()
	now := time.Now()

	if err := s.Set(ctx, "GET /api/books", entry(now, time.Minute, `{"data":[]}`), "books"); err != nil {
		t.Fatalf("set: %v", err)
	}
	e, ok, err := s.Get(ctx, "GET /api/books")
	if err != nil || !ok || string(e.Body) != `{"data":[]}` || e.Status != 200 {
		t.Fatalf("get: %v %v %+v", ok, err, e)
	}
	n, err := s.InvalidateTags(ctx, "books")
	if err != nil || n != 1 {
		t.Fatalf("invalidate: %d %v", n, err)
	}
	if _, ok, _ := s.Get(ctx, "GET /api/books"); ok {
		t.Fatalf("entry must be gone after invalidation")
	}
}
