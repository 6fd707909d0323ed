// Package validate checks decoded request payloads against their struct tags
// and reports every violation at once as field-level errors.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
)

// Normalizer is implemented by payloads that trim or default their fields
// before validation.
type Normalizer interface {
	Normalize()
}

// Validator wraps a configured validator.Validate. It is safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator that reports fields by their JSON (or form) names.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(fieldName)
	return &Validator{v: v}
}

// Struct validates s and returns all violations, or nil when s is valid.
func (v *Validator) Struct(s any) []apperr.FieldError {
	if n, ok := s.(Normalizer); ok {
		n.Normalize()
	}
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []apperr.FieldError{{Field: "body", Message: err.Error()}}
	}
	out := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := path(fe)
		out = append(out, apperr.FieldError{Field: field, Message: message(field, fe)})
	}
	return out
}

// Var validates a single value against a tag, e.g. Var(id, "uuid").
func (v *Validator) Var(field string, value any, tag string) *apperr.FieldError {
	if err := v.v.Var(value, tag); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &apperr.FieldError{Field: field, Message: message(field, verrs[0])}
		}
		return &apperr.FieldError{Field: field, Message: err.Error()}
	}
	return nil
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form", "uri"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// path strips the root struct name: "CreateBook.items[0].book_id" -> "items[0].book_id".
func path(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(field string, fe validator.FieldError) string {
	param := fe.Param()
	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return field + " is required"
	case "min", "gte":
		return bound(field, fe, "at least", param)
	case "max", "lte":
		return bound(field, fe, "at most", param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, param)
	case "len":
		return bound(field, fe, "exactly", param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(strings.Fields(param), ", "))
	case "email":
		return field + " must be a valid email address"
	case "uuid", "uuid4":
		return field + " must be a valid UUID"
	case "url", "http_url":
		return field + " must be a valid URL"
	case "isbn":
		return field + " must be a valid ISBN"
	case "alphanum":
		return field + " must contain only letters and digits"
	case "e164":
		return field + " must be a phone number in E.164 format"
	case "gtefield":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, strings.ToLower(param))
	case "unique":
		return field + " must not contain duplicates"
	default:
		return fmt.Sprintf("%s failed the %q rule", field, fe.Tag())
	}
}

func bound(field string, fe validator.FieldError, rel, param string) string {
	switch fe.Kind() {
	case reflect.String:
		return fmt.Sprintf("%s must be %s %s characters long", field, rel, param)
	case reflect.Slice, reflect.Array, reflect.Map:
		return fmt.Sprintf("%s must contain %s %s items", field, rel, param)
	default:
		return fmt.Sprintf("%s must be %s %s", field, rel, param)
	}
}
