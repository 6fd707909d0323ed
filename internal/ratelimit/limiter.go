package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Limiter applies one Policy to a Store.
type Limiter struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter binds policy to store. Policies sharing a store are isolated by
// prefixing keys with the policy name.
func NewLimiter(store Store, policy Policy, opts ...Option) *Limiter {
	if policy.Max < 1 {
		policy.Max = 1
	}
	l := &Limiter{store: store, policy: policy, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Policy returns the limiter's policy.
func (l *Limiter) Policy() Policy { return l.policy }

// Allow records one request for key. On store failure the request is
// admitted and the error is returned so the caller can log it.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	d, err := l.store.Take(ctx, l.key(key), now, l.policy.Window, l.policy.Max)
	if err != nil {
		return Decision{Allowed: true, Remaining: l.policy.Max, ResetAt: now.Add(l.policy.Window)}, err
	}
	return d, nil
}

// Count reports the live requests for key.
func (l *Limiter) Count(ctx context.Context, key string) (int, error) {
	return l.store.Count(ctx, l.key(key), l.now(), l.policy.Window)
}

// Reset clears key's window.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, l.key(key))
}

// Sweep removes stale windows once. It applies this policy's window to every
// key in the store, so a MemoryStore should not be shared across policies.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.now(), l.policy.Window)
}

// StartJanitor sweeps every interval until ctx is done.
func (l *Limiter) StartJanitor(ctx context.Context, every time.Duration) {
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
				n, err := l.Sweep(ctx)
				if err != nil {
					log.Warn().Err(err).Str("policy", l.policy.Name).Msg("ratelimit sweep failed")
					continue
				}
				if n > 0 {
					log.Debug().Int("removed", n).Str("policy", l.policy.Name).Msg("ratelimit sweep")
				}
			}
		}
	}()
}

func (l *Limiter) key(k string) string { return l.policy.Name + ":" + k }
