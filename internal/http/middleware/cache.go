// This file implements the response cache for read-heavy public resources.
//
// ResponseCache serves GET responses from a cache.Store and stores fresh
// successful ones, tagged with the resource family (books, categories, ...).
// InvalidateOn drops every entry of the named families after a successful
// mutation, so the next read observes the change.
package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/cache"
)

// HeaderCache reports HIT, MISS, or BYPASS for cacheable routes.
const HeaderCache = "X-Cache"

// ResponseCache caches successful GET responses for ttl under family.
//
//   - A fresh entry is replayed with X-Cache: HIT; If-None-Match matching its
//     ETag yields 304.
//   - Otherwise the response is buffered, sent with X-Cache: MISS, and stored
//     when the handler wrote a 2xx without recording errors.
//   - Requests with Cache-Control no-cache/no-store or Pragma: no-cache skip
//     both lookup and store (X-Cache: BYPASS).
//   - Store failures degrade to uncached handling.
func ResponseCache(store cache.Store, ttl time.Duration, family string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || ttl <= 0 || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := cache.Key(c.Request.Method, c.Request.URL.Path, c.Request.URL.Query())
		now := time.Now()

		if noCache(c.Request) {
			cacheEvents.WithLabelValues(family, "bypass").Inc()
			c.Header(HeaderCache, "BYPASS")
			c.Next()
			return
		}

		e, ok, err := store.Get(ctx, key)
		switch {
		case err != nil:
			cacheEvents.WithLabelValues(family, "error").Inc()
			LoggerFrom(c).Warn().Err(err).Str("family", family).Msg("cache read failed")
		case ok && e.Fresh(now):
			cacheEvents.WithLabelValues(family, "hit").Inc()
			replayEntry(c, e, now)
			c.Abort()
			return
		default:
			cacheEvents.WithLabelValues(family, "miss").Inc()
		}

		orig := c.Writer
		bw := &bufferedWriter{ResponseWriter: orig, status: http.StatusOK}
		c.Writer = bw
		// Restored on panic too, so outer middleware renders to the client.
		defer func() { c.Writer = orig }()
		c.Next()
		c.Writer = orig

		if !bw.wrote {
			// Nothing written: leave the response to ErrorResponder.
			return
		}

		h := orig.Header()
		h.Set(HeaderCache, "MISS")
		body := bw.buf.Bytes()
		if bw.status >= 200 && bw.status < 300 && len(c.Errors) == 0 {
			e := cache.Entry{
				Status:      bw.status,
				ContentType: h.Get("Content-Type"),
				Body:        append([]byte(nil), body...),
				ETag:        etag(body),
				StoredAt:    now,
				ExpiresAt:   now.Add(ttl),
			}
			if err := store.Set(context.WithoutCancel(ctx), key, e, family); err != nil {
				cacheEvents.WithLabelValues(family, "error").Inc()
				LoggerFrom(c).Warn().Err(err).Str("family", family).Msg("cache write failed")
			} else {
				cacheEvents.WithLabelValues(family, "store").Inc()
			}
			h.Set("ETag", e.ETag)
			h.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(ttl.Seconds())))
		}
		orig.WriteHeader(bw.status)
		_, _ = orig.Write(body)
	}
}

// replayEntry writes a cached entry, honoring If-None-Match.
func replayEntry(c *gin.Context, e cache.Entry, now time.Time) {
	h := c.Writer.Header()
	h.Set(HeaderCache, "HIT")
	if e.ETag != "" {
		h.Set("ETag", e.ETag)
	}
	maxAge := int(e.ExpiresAt.Sub(now).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	h.Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
	h.Set("Age", strconv.Itoa(int(now.Sub(e.StoredAt).Seconds())))

	if e.ETag != "" && etagMatches(c.GetHeader("If-None-Match"), e.ETag) {
		c.Status(http.StatusNotModified)
		c.Writer.WriteHeaderNow()
		return
	}
	c.Data(e.Status, e.ContentType, e.Body)
}

// InvalidateOn drops every cached entry of families after a successful
// non-GET request.
func InvalidateOn(store cache.Store, families ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if store == nil || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			return
		}
		if len(c.Errors) > 0 || c.Writer.Status() >= 400 {
			return
		}
		n, err := store.InvalidateTags(context.WithoutCancel(c.Request.Context()), families...)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Strs("families", families).Msg("cache invalidation failed")
			return
		}
		for _, f := range families {
			cacheEvents.WithLabelValues(f, "invalidate").Inc()
		}
		if n > 0 {
			LoggerFrom(c).Debug().Int("entries", n).Strs("families", families).Msg("cache invalidated")
		}
	}
}

// noCache reports whether the client asked to skip cached copies.
func noCache(r *http.Request) bool {
	cc := strings.ToLower(r.Header.Get("Cache-Control"))
	if strings.Contains(cc, "no-cache") || strings.Contains(cc, "no-store") {
		return true
	}
	return strings.EqualFold(r.Header.Get("Pragma"), "no-cache")
}

func etag(body []byte) string {
	sum := sha256.Sum256(body)
	return `W/"` + hex.EncodeToString(sum[:16]) + `"`
}

func etagMatches(header, tag string) bool {
	if header == "" {
		return false
	}
	if strings.TrimSpace(header) == "*" {
		return true
	}
	for _, part := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(part), "W/") == strings.TrimPrefix(tag, "W/") {
			return true
		}
	}
	return false
}

// bufferedWriter holds the handler's response so it can be stored before
// being sent.
type bufferedWriter struct {
	gin.ResponseWriter
	buf    bytes.Buffer
	status int
	wrote  bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if code > 0 && !w.wrote {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() { w.wrote = true }

func (w *bufferedWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.buf.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	w.wrote = true
	return w.buf.WriteString(s)
}

func (w *bufferedWriter) Status() int { return w.status }

func (w *bufferedWriter) Size() int { return w.buf.Len() }

func (w *bufferedWriter) Written() bool { return w.wrote }

// Flush is a no-op; the body is sent once the handler returns.
func (w *bufferedWriter) Flush() {}
