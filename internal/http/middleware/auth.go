// This file implements the authenticator. Authenticate requires a valid
// bearer token; OptionalAuth resolves a principal when one is presented and
// otherwise lets the request through anonymously.
//
// On success the request carries:
//   - the *domain.Principal (PrincipalFrom)
//   - the user ID under "userID" (read by KeyByUserOrIP and the idempotency
//     validator)
//   - a request-scoped logger enriched with user_id
//
// Tokens close to expiry are renewed transparently: a fresh access token is
// returned in the X-New-Token response header.
package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/identity"
	"github.com/tbourn/bookshelvz-backend/internal/ratelimit"
)

// HeaderNewToken carries a renewed access token.
const HeaderNewToken = "X-New-Token"

const principalKey = "principal"

// ProfileLoader fetches the stored profile for a user. A missing profile is
// reported as (nil, nil).
type ProfileLoader interface {
	LoadProfile(ctx context.Context, id string) (*domain.UserProfile, error)
}

// AuthOptions configures Authenticate and OptionalAuth.
type AuthOptions struct {
	Provider identity.Provider
	Profiles ProfileLoader
	// RefreshThreshold renews tokens whose remaining lifetime is below it.
	// Zero disables renewal.
	RefreshThreshold time.Duration
	// RefreshLimiter, when set, caps renewals per user.
	RefreshLimiter *ratelimit.Limiter
	Now            func() time.Time
}

// Authenticate rejects requests without a valid access token.
//
//   - no bearer token           → 401 "No token provided"
//   - invalid or expired token  → 401 "Invalid or expired token"
//   - profile lookup failure    → 500 "Error fetching user profile"
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	return authenticate(opts, true)
}

// OptionalAuth attaches a principal when a valid token is presented. Missing
// or invalid tokens leave the request anonymous.
func OptionalAuth(opts AuthOptions) gin.HandlerFunc {
	return authenticate(opts, false)
}

func authenticate(opts AuthOptions, required bool) gin.HandlerFunc {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		setAuthSecurityHeaders(c.Writer.Header())

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			if required {
				abort(c, apperr.Authentication("No token provided"))
				return
			}
			c.Next()
			return
		}

		ctx := c.Request.Context()
		claims, err := opts.Provider.Verify(ctx, token)
		if err != nil {
			if required {
				abort(c, apperr.Authentication("Invalid or expired token"))
				return
			}
			LoggerFrom(c).Debug().Err(err).Msg("ignoring invalid token on public route")
			c.Next()
			return
		}

		var profile *domain.UserProfile
		if opts.Profiles != nil {
			profile, err = opts.Profiles.LoadProfile(ctx, claims.UserID())
			if err != nil {
				abort(c, apperr.Internal("Error fetching user profile", err))
				return
			}
		}

		p := &domain.Principal{ID: claims.UserID(), Email: claims.Email, Role: domain.ParseRole(claims.Role)}
		if profile != nil {
			p.Profile = profile
			p.Role = domain.ParseRole(profile.Role)
			if profile.Email != "" {
				p.Email = profile.Email
			}
		}

		if opts.RefreshThreshold > 0 && claims.Remaining(now()) < opts.RefreshThreshold {
			renew(c, opts, claims, p.ID)
		}

		c.Set(principalKey, p)
		c.Set(userIDKey, p.ID)
		setLogger(c, LoggerFrom(c).With().Str("user_id", p.ID).Logger())

		c.Next()
	}
}

// renew issues a fresh access token into X-New-Token. Failures are logged and
// never fail the request.
func renew(c *gin.Context, opts AuthOptions, claims *identity.Claims, userID string) {
	ctx := c.Request.Context()
	if opts.RefreshLimiter != nil {
		d, err := opts.RefreshLimiter.Allow(ctx, "user:"+userID)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("refresh limiter unavailable")
		}
		if !d.Allowed {
			return
		}
	}
	fresh, err := opts.Provider.Refresh(ctx, claims)
	if err != nil {
		LoggerFrom(c).Warn().Err(err).Msg("token renewal failed")
		return
	}
	c.Header(HeaderNewToken, fresh)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" value.
func bearerToken(h string) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// PrincipalFrom returns the authenticated caller, or nil for anonymous
// requests.
func PrincipalFrom(c *gin.Context) *domain.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*domain.Principal); ok {
			return p
		}
	}
	return nil
}
