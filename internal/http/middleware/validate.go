// This file implements request validation. ValidateBody and ValidateQuery
// decode the payload into a typed struct, check every rule at once, and stash
// the result for the handler (Body, Query). Failures record a 400 listing
// every violated field.
package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/validate"
)

const (
	ctxKeyBody  = "validated.body"
	ctxKeyQuery = "validated.query"
)

// ValidateBody decodes the JSON body into a new T and validates it.
//
// An empty body decodes to the zero value so required fields are reported
// individually. Malformed JSON is reported against "body", a type mismatch
// against the offending field, and an oversized body as 413.
func ValidateBody[T any](v *validate.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		dst := new(T)
		typeFields, err := decodeJSON(c.Request, dst)
		if err != nil {
			abort(c, err)
			return
		}
		if fields := mergeFields(typeFields, v.Struct(dst)); len(fields) > 0 {
			abort(c, apperr.Validation(fields))
			return
		}
		c.Set(ctxKeyBody, dst)
		c.Next()
	}
}

// ValidateQuery binds the query string into a new T (form tags and defaults)
// and validates it.
func ValidateQuery[T any](v *validate.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		dst := new(T)
		if err := c.ShouldBindQuery(dst); err != nil {
			abort(c, apperr.Validation([]apperr.FieldError{{Field: "query", Message: err.Error()}}))
			return
		}
		if fields := v.Struct(dst); len(fields) > 0 {
			abort(c, apperr.Validation(fields))
			return
		}
		c.Set(ctxKeyQuery, dst)
		c.Next()
	}
}

// ValidateUUIDParam requires each named path parameter to be a UUID.
func ValidateUUIDParam(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fields []apperr.FieldError
		for _, n := range names {
			if err := uuid.Validate(c.Param(n)); err != nil {
				fields = append(fields, apperr.FieldError{Field: n, Message: n + " must be a valid UUID"})
			}
		}
		if len(fields) > 0 {
			abort(c, apperr.Validation(fields))
			return
		}
		c.Next()
	}
}

// Body returns the payload stored by ValidateBody[T]. It panics when the
// route was registered without it.
func Body[T any](c *gin.Context) *T {
	return c.MustGet(ctxKeyBody).(*T)
}

// Query returns the parameters stored by ValidateQuery[T]. It panics when
// the route was registered without it.
func Query[T any](c *gin.Context) *T {
	return c.MustGet(ctxKeyQuery).(*T)
}

// decodeJSON fills dst from the request body. A type mismatch is returned as
// a field error rather than an error: the decoder keeps going after one, so
// the remaining fields are populated and can still be validated.
func decodeJSON(r *http.Request, dst any) ([]apperr.FieldError, error) {
	if r.Body == nil {
		return nil, nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil, nil
	}

	var (
		tooLarge *http.MaxBytesError
		typeErr  *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return nil, apperr.PayloadTooLarge("Request body too large")
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return []apperr.FieldError{{
			Field:   typeErr.Field,
			Message: typeErr.Field + " must be a " + jsonKind(typeErr.Type.Kind().String()),
		}}, nil
	default:
		return nil, apperr.Validation([]apperr.FieldError{{Field: "body", Message: "body must be valid JSON"}})
	}
}

// mergeFields appends rule violations to decode errors, skipping fields that
// already failed to decode.
func mergeFields(decoded, rules []apperr.FieldError) []apperr.FieldError {
	if len(decoded) == 0 {
		return rules
	}
	seen := make(map[string]bool, len(decoded))
	for _, f := range decoded {
		seen[f.Field] = true
	}
	out := decoded
	for _, f := range rules {
		if !seen[f.Field] {
			out = append(out, f)
		}
	}
	return out
}

func jsonKind(k string) string {
	switch k {
	case "string":
		return "string"
	case "bool":
		return "boolean"
	case "slice", "array":
		return "list"
	case "map", "struct":
		return "object"
	default:
		return "number"
	}
}
