package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
)

// Timeout bounds the request context by d. Handlers observe the deadline
// through their context; a request that ends past it without a response
// records a 504.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() && len(c.Errors) == 0 {
			_ = c.Error(apperr.Timeout())
		}
	}
}

// BodyLimit caps JSON request bodies at n bytes. Declared lengths over the
// limit are rejected with 413 up front; undeclared ones fail while decoding.
// Multipart uploads are bounded by their own handlers.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n <= 0 || c.Request.Body == nil || strings.HasPrefix(c.ContentType(), "multipart/") {
			c.Next()
			return
		}
		if c.Request.ContentLength > n {
			abort(c, apperr.PayloadTooLarge("Request body too large"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
