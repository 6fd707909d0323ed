// This file holds the two rate-limiting layers of the pipeline:
//
//   - RateLimit enforces a sliding-window ratelimit.Limiter (per policy:
//     general API traffic, authentication attempts, token refreshes). It
//     reports X-RateLimit-* headers and fails open when the store errors.
//   - Throttle is a process-local token bucket (golang.org/x/time/rate) that
//     smooths bursts before any window accounting happens.
//
// Idempotent replays count against both like any other request.
package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/ratelimit"
)

// KeyFunc selects the identity used to key a rate-limit bucket or window.
//
// Implementations should return a stable string for the duration of a request
// (e.g., "user:<id>" or "ip:<addr>").
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP prefers the authenticated user (from the Gin context under
// "userID", set by Authenticate) and falls back to the client IP address.
//
// The keys are prefixed to avoid collisions between user and IP namespaces
// (e.g., "user:abc123" vs "ip:203.0.113.7").
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if s := c.GetString(userIDKey); s != "" {
			return "user:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

// KeyByIP keys by client IP only. It is used for unauthenticated endpoints
// such as login, where the caller has no identity yet.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

// RateLimit admits at most policy.Max requests per key within the limiter's
// sliding window.
//
// Every decided request carries X-RateLimit-Limit, X-RateLimit-Remaining, and
// X-RateLimit-Reset (unix seconds). A denied request records a 429 error with
// the time until the oldest request leaves the window; ErrorResponder turns
// it into Retry-After. When the store fails the request is admitted and a
// warning is logged.
func RateLimit(l *ratelimit.Limiter, keyFn KeyFunc) gin.HandlerFunc {
	pol := l.Policy()
	limit := strconv.Itoa(pol.Max)
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), keyFn(c))
		if err != nil {
			rateLimitDecisions.WithLabelValues(pol.Name, "error").Inc()
			LoggerFrom(c).Warn().Err(err).Str("policy", pol.Name).Msg("rate limit store unavailable; admitting request")
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			rateLimitDecisions.WithLabelValues(pol.Name, "denied").Inc()
			abort(c, apperr.TooManyRequests("", d.RetryAfter))
			return
		}
		rateLimitDecisions.WithLabelValues(pol.Name, "allowed").Inc()
		c.Next()
	}
}

// visitor holds a single token bucket and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle implements a per-key token-bucket limiter.
//
// Buckets are created on demand and idle buckets are evicted after a TTL via
// opportunistic cleanup during lookups. Safe for concurrent use.
type Throttle struct {
	rps      rate.Limit
	burst    int
	keyFn    KeyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

// NewThrottle constructs a Throttle with the given tokens-per-second and
// burst size, keyed by keyFn. A burst <= 0 is coerced to 1.
func NewThrottle(rps float64, burst int, keyFn KeyFunc) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// getVisitor returns (and updates) the bucket for key, creating it if absent.
// Idle entries are collected every 5000 lookups, before the requested visitor
// is touched so a stale bucket can be evicted even when it is the one fetched.
func (t *Throttle) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanupN++
	if t.cleanupN >= 5000 {
		for k, vv := range t.visitors {
			if now.Sub(vv.lastSeen) >= t.ttl {
				delete(t.visitors, k)
			}
		}
		t.cleanupN = 0
	}

	if v, ok := t.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(t.rps, t.burst)
	t.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler returns the Gin middleware. Requests over the bucket's rate record
// a 429 with a Retry-After of one refill interval.
func (t *Throttle) Handler() gin.HandlerFunc {
	retry := time.Second
	if t.rps > 0 {
		retry = time.Duration(float64(time.Second) / float64(t.rps))
	}
	return func(c *gin.Context) {
		if t.getVisitor(t.keyFn(c)).Allow() {
			c.Next()
			return
		}
		abort(c, apperr.TooManyRequests("", retry))
	}
}
