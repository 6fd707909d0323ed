// Package identity verifies and issues the bearer tokens accepted by the API.
// Tokens are HS256 JWTs compatible with the data platform's auth service:
// issuer "<platform url>/auth/v1", audience "authenticated", subject = user id.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails signature, claim, or
// type checks. Callers must not distinguish between the causes.
var ErrInvalidToken = errors.New("invalid or expired token")

// Audience is the "aud" claim carried by user tokens.
const Audience = "authenticated"

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Claims are the JWT claims used by the API.
type Claims struct {
	Email string    `json:"email,omitempty"`
	Role  string    `json:"role,omitempty"`
	Type  TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// UserID is the token subject.
func (c *Claims) UserID() string { return c.Subject }

// Remaining is the lifetime left at now; zero when expired or unset.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	if d := c.ExpiresAt.Time.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Identity is the subject a token pair is issued for.
type Identity struct {
	ID    string
	Email string
	Role  string
}

// TokenPair is returned on sign-in, registration, and refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Provider verifies and mints tokens. It is the seam used by the
// authentication middleware and the auth service.
type Provider interface {
	// Verify validates an access token and returns its claims.
	Verify(ctx context.Context, token string) (*Claims, error)
	// VerifyRefresh validates a refresh token and returns its claims.
	VerifyRefresh(ctx context.Context, token string) (*Claims, error)
	// Issue mints a new access/refresh pair.
	Issue(ctx context.Context, id Identity) (TokenPair, error)
	// Refresh mints a new access token for the subject of claims.
	Refresh(ctx context.Context, claims *Claims) (string, error)
}

// JWTOptions configures a JWTProvider.
type JWTOptions struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

// JWTProvider is an HS256 Provider.
type JWTProvider struct {
	opts   JWTOptions
	parser *jwt.Parser
}

// NewJWTProvider validates opts and returns a provider.
func NewJWTProvider(opts JWTOptions) (*JWTProvider, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("identity: signing secret must not be empty")
	}
	if opts.Audience == "" {
		opts.Audience = Audience
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(opts.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(opts.Now),
	}
	if opts.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(opts.Issuer))
	}
	return &JWTProvider{opts: opts, parser: jwt.NewParser(popts...)}, nil
}

func (p *JWTProvider) Verify(ctx context.Context, token string) (*Claims, error) {
	return p.parse(token, AccessToken)
}

func (p *JWTProvider) VerifyRefresh(ctx context.Context, token string) (*Claims, error) {
	return p.parse(token, RefreshToken)
}

func (p *JWTProvider) Issue(ctx context.Context, id Identity) (TokenPair, error) {
	if id.ID == "" {
		return TokenPair{}, errors.New("identity: subject must not be empty")
	}
	now := p.opts.Now()
	access, exp, err := p.sign(id, AccessToken, now, p.opts.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := p.sign(id, RefreshToken, now, p.opts.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(p.opts.AccessTTL / time.Second),
		ExpiresAt:    exp,
	}, nil
}

func (p *JWTProvider) Refresh(ctx context.Context, claims *Claims) (string, error) {
	if claims == nil || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	tok, _, err := p.sign(Identity{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, AccessToken, p.opts.Now(), p.opts.AccessTTL)
	return tok, err
}

func (p *JWTProvider) sign(id Identity, typ TokenType, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Email: id.Email,
		Role:  id.Role,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    p.opts.Issuer,
			Audience:  jwt.ClaimStrings{p.opts.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.opts.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: sign %s token: %w", typ, err)
	}
	return s, exp, nil
}

func (p *JWTProvider) parse(token string, want TokenType) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	t, err := p.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.opts.Secret, nil
	})
	if err != nil || !t.Valid {
		return nil, ErrInvalidToken
	}
	// Tokens minted by the platform itself carry no "typ"; treat them as access tokens.
	typ := claims.Type
	if typ == "" {
		typ = AccessToken
	}
	if typ != want || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
