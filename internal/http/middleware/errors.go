// This file implements ErrorResponder, the single place where failures are
// turned into HTTP responses. Middlewares and handlers record errors with
// c.Error and abort; ErrorResponder renders the last one after the chain
// unwinds.
package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
)

// ErrorBody is the error envelope returned for every failed request.
type ErrorBody struct {
	Status    string              `json:"status"`
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	RequestID string              `json:"requestId,omitempty"`
	Errors    []apperr.FieldError `json:"errors,omitempty"`
	Error     string              `json:"error,omitempty"`
	Stack     string              `json:"stack,omitempty"`
}

// ErrorOptions configures ErrorResponder.
type ErrorOptions struct {
	// Development adds the underlying error and stack trace to operational
	// error bodies.
	Development bool
}

// ErrorResponder renders the last error recorded on the Gin context as an
// ErrorBody once the rest of the chain has returned.
//
// Operational AppErrors are rendered with their status and message and logged
// at warn (4xx) or error (5xx) level.
// Anything else becomes a 500 "Something went wrong" in every environment.
// Too-many-requests errors also carry a Retry-After header in whole seconds.
// Nothing is rendered if the handler already wrote a response.
func ErrorResponder(opts ErrorOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		ae := apperr.Wrap(err)

		body := ErrorBody{
			Status:    ae.Status(),
			Code:      ae.Code,
			Message:   ae.Message,
			RequestID: RequestIDFrom(c),
			Errors:    ae.Fields,
		}
		lg := LoggerFrom(c).With().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("ip", c.ClientIP()).
			Str("user_id", c.GetString(userIDKey)).
			Str("code", ae.Code).
			Logger()
		switch {
		case !ae.Operational:
			lg.Error().Err(err).Bool("unexpected", true).Str("stack", ae.Stack()).Msg("unexpected error")
			body.Code = apperr.CodeInternal
			body.Message = "Something went wrong"
		case ae.StatusCode >= http.StatusInternalServerError:
			lg.Error().Err(err).Int("status", ae.StatusCode).Msg("request failed")
		default:
			lg.Warn().Err(err).Int("status", ae.StatusCode).Msg("request rejected")
		}
		if ae.Operational && opts.Development {
			body.Stack = ae.Stack()
			if ae.Err != nil {
				body.Error = ae.Err.Error()
			}
		}

		if ae.StatusCode == http.StatusTooManyRequests && ae.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(ae.RetryAfter.Seconds()))))
		}
		status := ae.StatusCode
		if !ae.Operational {
			status = http.StatusInternalServerError
		}
		c.JSON(status, body)
	}
}

// abort records err and stops the chain.
func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
