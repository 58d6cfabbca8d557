package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
	})
	return instance
}

// Struct validates v against its `validate` tags. Failures come back as
// ErrValidation wrapping a FieldErrors value.
func Struct(v any) error {
	err := get().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return commonerrors.ErrValidation.WithCause(err)
	}

	fields := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		fields[lowerFirst(fe.Field())] = describe(fe)
	}
	return commonerrors.ErrValidation.WithCause(fields)
}

// Fields wraps reasons produced outside struct tags in the same
// ErrValidation shape Struct returns.
func Fields(fields FieldErrors) error {
	return commonerrors.ErrValidation.WithCause(fields)
}

// FieldErrors maps a field name to a readable reason.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s: %s", k, v))
	}
	return strings.Join(parts, "; ")
}

// Details extracts per-field reasons from a validation error, if any.
func Details(err error) map[string]any {
	var fields FieldErrors
	if !errors.As(err, &fields) {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gtfield":
		return fmt.Sprintf("must be after %s", lowerFirst(fe.Param()))
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
