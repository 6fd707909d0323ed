// Package ratelimit implements sliding-window request limiting over an
// injectable Store. A window is the list of request timestamps for a key that
// fall within the policy's duration; a request is admitted when fewer than
// Max timestamps remain after evicting stale ones.
//
// Two stores are provided: MemoryStore for single-process deployments and
// RedisStore for windows shared by every instance behind a load balancer.
package ratelimit

import (
	"context"
	"time"
)

// Policy is a named sliding-window limit.
type Policy struct {
	Name   string
	Window time.Duration
	Max    int
}

// Decision is the outcome of admitting one request.
type Decision struct {
	Allowed    bool
	Count      int           // requests in the window, including this one when allowed
	Remaining  int           // slots left in the window
	RetryAfter time.Duration // zero when allowed
	ResetAt    time.Time     // when the oldest request in the window expires
}

// Store persists per-key request windows.
//
// Take must be atomic per key: evicting, checking, and recording happen as
// one step so concurrent requests cannot both claim the last slot.
type Store interface {
	// Take evicts timestamps at or before now-window and records now when
	// fewer than max remain. Denied requests are not recorded.
	Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error)
	// Count returns the live requests in key's window without recording one.
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	// Reset forgets key's window.
	Reset(ctx context.Context, key string) error
	// Sweep drops stale timestamps and empty windows; it returns the number of
	// keys removed. Stores with native expiry may return 0.
	Sweep(ctx context.Context, now time.Time, window time.Duration) (int, error)
}

func decide(count, max int, oldest, now time.Time, window time.Duration, allowed bool) Decision {
	d := Decision{Allowed: allowed, Count: count, ResetAt: oldest.Add(window)}
	if rem := max - count; rem > 0 {
		d.Remaining = rem
	}
	if !allowed {
		if ra := d.ResetAt.Sub(now); ra > 0 {
			d.RetryAfter = ra
		}
	}
	return d
}
