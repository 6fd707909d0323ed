// Package apperr defines the typed error taxonomy shared by middlewares,
// handlers, and services. Every error that reaches the error responder is
// either an *AppError (operational, safe to show) or an unexpected error that
// is rendered as a generic 500.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

// Stable, machine-readable error codes.
const (
	CodeValidation      = "validation_failed"
	CodeBadRequest      = "bad_request"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeTooManyRequests = "too_many_requests"
	CodePayloadTooLarge = "payload_too_large"
	CodeTimeout         = "timeout"
	CodeDatabase        = "database_error"
	CodeInternal        = "internal_error"
)

// FieldError is one validation violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError is an error with an HTTP status and a client-safe message.
//
// Operational errors are expected failures (bad input, missing resource,
// rate limits) whose Message is returned verbatim. Non-operational errors are
// programming or infrastructure faults; their Message is replaced by a
// generic one outside development.
type AppError struct {
	StatusCode  int
	Code        string
	Message     string
	Operational bool
	Fields      []FieldError
	RetryAfter  time.Duration
	Err         error

	stack error
}

// New builds an operational AppError.
func New(status int, code, msg string) *AppError {
	return &AppError{
		StatusCode:  status,
		Code:        code,
		Message:     msg,
		Operational: true,
		stack:       pkgerrors.New(msg),
	}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Status is "fail" for client errors and "error" for server errors.
func (e *AppError) Status() string {
	if e.StatusCode >= 500 {
		return "error"
	}
	return "fail"
}

// Stack renders the captured stack trace. The underlying cause's stack is
// preferred when it carries one.
func (e *AppError) Stack() string {
	if e.Err != nil {
		if _, ok := e.Err.(interface{ StackTrace() pkgerrors.StackTrace }); ok {
			return fmt.Sprintf("%+v", e.Err)
		}
	}
	if e.stack == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.stack)
}

// WithCause attaches an underlying error.
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// Validation is a 400 carrying every field violation.
func Validation(fields []FieldError) *AppError {
	e := New(http.StatusBadRequest, CodeValidation, "Validation failed")
	e.Fields = fields
	return e
}

// BadRequest is a 400 without field details.
func BadRequest(msg string) *AppError {
	return New(http.StatusBadRequest, CodeBadRequest, msg)
}

// Authentication is a 401.
func Authentication(msg string) *AppError {
	if msg == "" {
		msg = "Authentication required"
	}
	return New(http.StatusUnauthorized, CodeUnauthorized, msg)
}

// Authorization is a 403.
func Authorization(msg string) *AppError {
	if msg == "" {
		msg = "Insufficient permissions"
	}
	return New(http.StatusForbidden, CodeForbidden, msg)
}

// NotFound is a 404 naming the missing resource.
func NotFound(resource string) *AppError {
	if resource == "" {
		resource = "Resource"
	}
	return New(http.StatusNotFound, CodeNotFound, resource+" not found")
}

// Conflict is a 409.
func Conflict(msg string) *AppError {
	return New(http.StatusConflict, CodeConflict, msg)
}

// TooManyRequests is a 429 with the time until a slot frees up.
func TooManyRequests(msg string, retryAfter time.Duration) *AppError {
	if msg == "" {
		msg = "Too many requests, please try again later."
	}
	e := New(http.StatusTooManyRequests, CodeTooManyRequests, msg)
	e.RetryAfter = retryAfter
	return e
}

// PayloadTooLarge is a 413.
func PayloadTooLarge(msg string) *AppError {
	return New(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, msg)
}

// Timeout is a 504 for requests that outlive their deadline.
func Timeout() *AppError {
	return New(http.StatusGatewayTimeout, CodeTimeout, "Request timed out")
}

// Database is a non-operational 500 wrapping a storage fault.
func Database(err error) *AppError {
	e := New(http.StatusInternalServerError, CodeDatabase, "Database operation failed")
	e.Operational = false
	e.Err = pkgerrors.WithStack(err)
	return e
}

// Internal is a 500. It stays operational so msg reaches the client; use
// Wrap for faults whose details must be hidden.
func Internal(msg string, err error) *AppError {
	e := New(http.StatusInternalServerError, CodeInternal, msg)
	if err != nil {
		e.Err = pkgerrors.WithStack(err)
	}
	return e
}

// Wrap turns an arbitrary error into a non-operational 500.
func Wrap(err error) *AppError {
	if ae, ok := As(err); ok {
		return ae
	}
	e := New(http.StatusInternalServerError, CodeInternal, "Something went wrong")
	e.Operational = false
	e.Err = pkgerrors.WithStack(err)
	return e
}

// As extracts an *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// StatusOf returns the HTTP status for err, 500 for non-AppErrors.
func StatusOf(err error) int {
	if ae, ok := As(err); ok {
		return ae.StatusCode
	}
	return http.StatusInternalServerError
}

// FromDB classifies a GORM/driver error for the named resource.
//
//   - record not found     → 404 "<resource> not found"
//   - unique violation     → 409 "<resource> already exists"
//   - foreign key failure  → 400 "Referenced resource does not exist"
//   - context deadline     → 504
//   - anything else        → non-operational 500
func FromDB(err error, resource string) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	if resource == "" {
		resource = "Resource"
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound(resource)
	case IsUniqueViolation(err):
		return Conflict(resource + " already exists").WithCause(err)
	case IsForeignKeyViolation(err):
		return BadRequest("Referenced resource does not exist").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout().WithCause(err)
	case errors.Is(err, context.Canceled):
		e := New(499, "client_closed_request", "Client closed request")
		e.Err = err
		return e
	default:
		return Database(err)
	}
}

// IsUniqueViolation matches translated GORM errors as well as the plain-text
// messages produced by the SQLite and Postgres drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") ||
		strings.Contains(low, "sqlstate 23505")
}

// IsForeignKeyViolation matches foreign key failures across drivers.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "foreign key constraint") ||
		strings.Contains(low, "sqlstate 23503")
}
