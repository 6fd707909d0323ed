// This file implements idempotency support for unsafe HTTP methods.
// It validates an Idempotency-Key request header, optionally performs a
// lookup to detect previously completed requests, and annotates the request
// context so downstream handlers can:
//   - read the validated key (GetIdempotencyKey)
//   - detect replayed requests (IsReplay)
//
// Persistence stays behind the narrow IdempotencyLookup function type; the
// order service owns the stored records and replays the original order.
package middleware

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
)

// HeaderIdempotencyKey is the request header that clients use to convey an
// idempotency key for unsafe operations (e.g., POST /orders).
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored replay exists
)

// defaultIdemPattern is an RFC 7230 token plus common safe characters.
var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the middleware found a completed operation for
// this request's key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// ScopeFor names the operation a request's key belongs to. Requests for
	// which it returns "" (or when it is nil) skip the lookup.
	ScopeFor func(*gin.Context) string
	// Now defaults to time.Now.
	Now func() time.Time
}

// IdempotencyLookup answers whether a still-valid result exists for
// (userID, scope, key) at now. Lookup errors never block the request.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header (if present),
// stashes it in the request context, and checks for a prior completed request
// via lookup. A detected replay is flagged for IsReplay and for the rate
// limiters, which let it through without consuming quota.
//
// An absent header is a no-op. An invalid header records a 400. The lookup
// runs only for authenticated requests with a non-empty scope, so install
// this after Authenticate and before RateLimit.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abort(c, apperr.Validation([]apperr.FieldError{{
				Field:   HeaderIdempotencyKey,
				Message: "Idempotency-Key must be at most " + strconv.Itoa(maxLen) + " URL-safe characters",
			}}))
			return
		}
		c.Set(ctxKeyIdemKey, key)

		uid := c.GetString(userIDKey)
		scope := ""
		if opts.ScopeFor != nil {
			scope = opts.ScopeFor(c)
		}
		if lookup != nil && uid != "" && scope != "" {
			exists, err := lookup(c.Request.Context(), uid, scope, key, now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if exists {
				c.Set(ctxKeyIdemReplay, true)
			}
		}

		c.Next()
	}
}
