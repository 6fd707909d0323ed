// Package middleware contains the Gin middleware that make up the request
// pipeline: correlation IDs, access logging, recovery, authentication,
// authorization, rate limiting, validation, response caching, and the error
// responder that renders every failure.
//
// This file provides the request ID injector, panic recovery, and the
// request-scoped logger helpers.
//
//   - RequestID() ensures every request carries a stable correlation ID
//     (propagated via X-Request-ID and stored in the Gin context).
//   - Recovery() converts panics into a non-operational error on the Gin
//     context so ErrorResponder renders the 500 envelope.
//   - LoggerFrom() retrieves the request-scoped logger installed by
//     RedactingLogger; Authenticate enriches it with the user ID.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// loggerKey holds the request-scoped *zerolog.Logger.
	loggerKey = "logger"
	// userIDKey holds the authenticated user's ID as a string.
	userIDKey = "userID"
	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
)

// RequestID attaches (or propagates) a correlation identifier per request.
//
// If the incoming request has X-Request-ID that value is reused, otherwise a
// new UUIDv4 is generated. The ID is written back to the response header and
// stored in the Gin context under "requestID".
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation ID of the request, or "".
func RequestIDFrom(c *gin.Context) string {
	return asString(c.Value(requestIDKey))
}

// Recovery intercepts panics, logs the stack, and records a non-operational
// error so the outer ErrorResponder renders the generic 500 envelope.
//
// Place it inside ErrorResponder and after RedactingLogger so the panic is
// captured with the request's structured context. When the handler had
// already started writing, the connection is left as is.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", rec)
			}
			_ = c.Error(apperr.Wrap(errors.WithStack(err)))
			c.Abort()
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger.
//
// If no logger was attached, a fallback logger without request-scoped fields
// is returned, so callers can use the result without nil checks.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// setLogger replaces the request-scoped logger.
func setLogger(c *gin.Context, l zerolog.Logger) {
	c.Set(loggerKey, &l)
}

// asString converts an arbitrary interface to a string, returning an empty
// string when the value is not a string. Used for context values.
func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate returns s unchanged when within n bytes, otherwise it truncates
// s to n bytes and appends an ellipsis. An n <= 0 disables truncation.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
