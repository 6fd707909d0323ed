package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/identity"
	"github.com/tbourn/bookshelvz-backend/internal/ratelimit"
)

type stubProfiles struct {
	profiles map[string]*domain.UserProfile
	err      error
}

func (s stubProfiles) LoadProfile(_ context.Context, id string) (*domain.UserProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.profiles[id], nil
}

func newProvider(t *testing.T, now func() time.Time) *identity.JWTProvider {
	t.Helper()
	p, err := identity.NewJWTProvider(identity.JWTOptions{
		Secret:    []byte("test-secret"),
		Issuer:    "http://localhost/auth/v1",
		AccessTTL: time.Hour,
		Now:       now,
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return p
}

func issue(t *testing.T, p *identity.JWTProvider, id, role string) string {
	t.Helper()
	pair, err := p.Issue(context.Background(), identity.Identity{ID: id, Email: id + "@example.com", Role: role})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken
}

type seen struct {
	principal *domain.Principal
	userID    string
}

func newAuthRouter(mw gin.HandlerFunc, extra ...gin.HandlerFunc) (*gin.Engine, *seen) {
	gin.SetMode(gin.TestMode)
	s := &seen{}
	r := gin.New()
	r.Use(RequestID(), ErrorResponder(ErrorOptions{}), mw)
	r.Use(extra...)
	r.GET("/me", func(c *gin.Context) {
		s.principal = PrincipalFrom(c)
		s.userID = c.GetString(userIDKey)
		c.Status(http.StatusNoContent)
	})
	return r, s
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate_RejectsMissingAndInvalidTokens(t *testing.T) {
	prov := newProvider(t, nil)
	r, _ := newAuthRouter(Authenticate(AuthOptions{Provider: prov}))

	w := get(r, "")
	if w.Code != http.StatusUnauthorized || decodeBody(t, w).Message != "No token provided" {
		t.Fatalf("missing token: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-XSS-Protection") != "1; mode=block" || w.Header().Get("Strict-Transport-Security") != "max-age=31536000; includeSubDomains" {
		t.Fatalf("security headers missing on rejection: %v", w.Header())
	}

	w = get(r, "not-a-jwt")
	if w.Code != http.StatusUnauthorized || decodeBody(t, w).Message != "Invalid or expired token" {
		t.Fatalf("invalid token: %d %s", w.Code, w.Body.String())
	}

	other, _ := identity.NewJWTProvider(identity.JWTOptions{Secret: []byte("other"), Issuer: "http://localhost/auth/v1"})
	forged, _ := other.Issue(context.Background(), identity.Identity{ID: "u1"})
	if w = get(r, forged.AccessToken); w.Code != http.StatusUnauthorized {
		t.Fatalf("forged token accepted: %d", w.Code)
	}

	refreshOnly, _ := prov.Issue(context.Background(), identity.Identity{ID: "u1"})
	if w = get(r, refreshOnly.RefreshToken); w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token accepted as access token: %d", w.Code)
	}
}

func TestAuthenticate_AttachesPrincipalFromProfile(t *testing.T) {
	prov := newProvider(t, nil)
	profiles := stubProfiles{profiles: map[string]*domain.UserProfile{
		"admin-1": {ID: "admin-1", Email: "boss@example.com", Role: "admin"},
	}}
	r, s := newAuthRouter(Authenticate(AuthOptions{Provider: prov, Profiles: profiles}))

	w := get(r, issue(t, prov, "admin-1", "user"))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d %s", w.Code, w.Body.String())
	}
	if s.principal == nil || s.principal.Role != domain.RoleAdmin || s.principal.Email != "boss@example.com" || s.principal.Profile == nil {
		t.Fatalf("principal = %+v", s.principal)
	}
	if s.userID != "admin-1" {
		t.Fatalf("userID = %q", s.userID)
	}

	// No profile row: role and email come from the token.
	w = get(r, issue(t, prov, "u-2", "moderator"))
	if w.Code != http.StatusNoContent || s.principal.Role != domain.RoleModerator || s.principal.Profile != nil {
		t.Fatalf("token-only principal = %+v (code %d)", s.principal, w.Code)
	}
}

func TestAuthenticate_ProfileFailureIs500(t *testing.T) {
	prov := newProvider(t, nil)
	_ = captureLogger(t)
	r, _ := newAuthRouter(Authenticate(AuthOptions{Provider: prov, Profiles: stubProfiles{err: errors.New("db down")}}))
	w := get(r, issue(t, prov, "u1", ""))
	if w.Code != http.StatusInternalServerError || decodeBody(t, w).Message != "Error fetching user profile" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestAuthenticate_RenewsTokensNearExpiry(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	prov := newProvider(t, clk.Now)
	token := issue(t, prov, "u1", "user")
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(),
		ratelimit.Policy{Name: "refresh", Window: time.Hour, Max: 1}, ratelimit.WithClock(clk.Now))
	r, _ := newAuthRouter(Authenticate(AuthOptions{
		Provider:         prov,
		RefreshThreshold: 10 * time.Minute,
		RefreshLimiter:   limiter,
		Now:              clk.Now,
	}))

	if w := get(r, token); w.Header().Get(HeaderNewToken) != "" {
		t.Fatalf("fresh token should not be renewed")
	}

	clk.Advance(55 * time.Minute)
	w := get(r, token)
	fresh := w.Header().Get(HeaderNewToken)
	if w.Code != http.StatusNoContent || fresh == "" || fresh == token {
		t.Fatalf("expected renewed token, code=%d header=%q", w.Code, fresh)
	}
	if _, err := prov.Verify(context.Background(), fresh); err != nil {
		t.Fatalf("renewed token invalid: %v", err)
	}

	// Renewal quota exhausted: request still succeeds without a new token.
	w = get(r, token)
	if w.Code != http.StatusNoContent || w.Header().Get(HeaderNewToken) != "" {
		t.Fatalf("renewal past quota: code=%d header=%q", w.Code, w.Header().Get(HeaderNewToken))
	}
}

func TestOptionalAuth_AnonymousAndAuthenticated(t *testing.T) {
	prov := newProvider(t, nil)
	r, s := newAuthRouter(OptionalAuth(AuthOptions{Provider: prov}))

	if w := get(r, ""); w.Code != http.StatusNoContent || s.principal != nil {
		t.Fatalf("anonymous: code=%d principal=%+v", w.Code, s.principal)
	}
	if w := get(r, "garbage"); w.Code != http.StatusNoContent || s.principal != nil {
		t.Fatalf("invalid token on public route: code=%d principal=%+v", w.Code, s.principal)
	}
	if w := get(r, issue(t, prov, "u9", "user")); w.Code != http.StatusNoContent || s.principal == nil || s.principal.ID != "u9" {
		t.Fatalf("authenticated: code=%d principal=%+v", w.Code, s.principal)
	}
}

func TestRequireRoles(t *testing.T) {
	prov := newProvider(t, nil)
	r, _ := newAuthRouter(Authenticate(AuthOptions{Provider: prov}), RequireRoles(domain.RoleAdmin))

	w := get(r, issue(t, prov, "u1", "user"))
	if w.Code != http.StatusForbidden || decodeBody(t, w).Message != "You do not have permission to perform this action" {
		t.Fatalf("user on admin route: %d %s", w.Code, w.Body.String())
	}
	if w = get(r, issue(t, prov, "a1", "admin")); w.Code != http.StatusNoContent {
		t.Fatalf("admin rejected: %d", w.Code)
	}

	anon, _ := newAuthRouter(func(c *gin.Context) { c.Next() }, RequireRoles(domain.RoleAdmin))
	if w = get(anon, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous on admin route: %d", w.Code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for in, want := range cases {
		if got := bearerToken(in); got != want {
			t.Fatalf("bearerToken(%q) = %q; want %q", in, got, want)
		}
	}
}
