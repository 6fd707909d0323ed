package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestHelpers_GetIdempotencyKey_IsReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected empty key when not set")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("expected GetIdempotencyKey to be absent for non-string value")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false for non-bool")
	}
}

type idemCall struct {
	userID, scope, key string
}

func newIdemRouter(opts IdempotencyOptions, lookup IdempotencyLookup, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorResponder(ErrorOptions{}))
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(userIDKey, userID)
		}
		c.Next()
	})
	r.Use(IdempotencyValidator(opts, lookup))
	r.POST("/orders", func(c *gin.Context) {
		k, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusCreated, gin.H{"key": k, "replay": IsReplay(c)})
	})
	return r
}

func ordersScope(c *gin.Context) string {
	if c.FullPath() == "/orders" {
		return "orders.place"
	}
	return ""
}

func TestIdempotencyValidator_NoHeader_NoLookupCalled(t *testing.T) {
	called := false
	lookup := func(context.Context, string, string, string, time.Time) (bool, error) {
		called = true
		return true, nil
	}
	r := newIdemRouter(IdempotencyOptions{ScopeFor: ordersScope}, lookup, "u1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders", nil))
	if w.Code != http.StatusCreated || called {
		t.Fatalf("code=%d lookupCalled=%v", w.Code, called)
	}
	if !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestIdempotencyValidator_InvalidKeys(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{MaxLen: 8, Pattern: regexp.MustCompile(`^[a-z]+$`)}, nil, "u1")

	for _, key := range []string{"waytoolongkey", "BAD-KEY"} {
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("key %q: expected 400, got %d", key, w.Code)
		}
		body := decodeBody(t, w)
		if body.Code != "validation_failed" || len(body.Errors) != 1 || body.Errors[0].Field != HeaderIdempotencyKey {
			t.Fatalf("unexpected body: %+v", body)
		}
	}
}

func TestIdempotencyValidator_LookupMissHitAndError(t *testing.T) {
	var calls []idemCall
	hit := false
	var lookupErr error
	lookup := func(_ context.Context, uid, scope, key string, _ time.Time) (bool, error) {
		calls = append(calls, idemCall{uid, scope, key})
		return hit, lookupErr
	}
	r := newIdemRouter(IdempotencyOptions{ScopeFor: ordersScope}, lookup, "u1")

	send := func() string {
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req.Header.Set(HeaderIdempotencyKey, "order-123")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
		return w.Body.String()
	}

	if body := send(); !strings.Contains(body, `"key":"order-123"`) || !strings.Contains(body, `"replay":false`) {
		t.Fatalf("miss body %s", body)
	}
	hit = true
	if body := send(); !strings.Contains(body, `"replay":true`) {
		t.Fatalf("hit body %s", body)
	}
	hit, lookupErr = false, errors.New("db down")
	_ = captureLogger(t)
	if body := send(); !strings.Contains(body, `"replay":false`) {
		t.Fatalf("lookup error must not mark replay: %s", body)
	}
	if len(calls) != 3 || calls[0] != (idemCall{"u1", "orders.place", "order-123"}) {
		t.Fatalf("unexpected lookup calls: %+v", calls)
	}
}

func TestIdempotencyValidator_SkipsLookupWithoutUserOrScope(t *testing.T) {
	called := false
	lookup := func(context.Context, string, string, string, time.Time) (bool, error) {
		called = true
		return true, nil
	}
	for _, tc := range []struct {
		name string
		opts IdempotencyOptions
		user string
	}{
		{"anonymous", IdempotencyOptions{ScopeFor: ordersScope}, ""},
		{"no scope", IdempotencyOptions{}, "u1"},
	} {
		r := newIdemRouter(tc.opts, lookup, tc.user)
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req.Header.Set(HeaderIdempotencyKey, "k1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated || called {
			t.Fatalf("%s: code=%d called=%v", tc.name, w.Code, called)
		}
	}
}
