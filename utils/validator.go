package utils

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("phone_digits", func(fl validator.FieldLevel) bool {
		n := PhoneDigits(fl.Field().String())
		return len(n) == 10 || len(n) == 11
	})
	return v
}

// PhoneDigits strips everything but the digits from a phone number.
func PhoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidationError lists every failing field with a readable message.
type ValidationError struct {
	fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.fields[k])
	}
	return strings.Join(msgs, ", ")
}

// Fields maps field name to message.
func (e *ValidationError) Fields() map[string]string {
	return e.fields
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{fields: map[string]string{field: message}}
}

// ValidateStruct validates every tagged field of s.
func ValidateStruct(s interface{}) error {
	return formatValidation(validate.Struct(s))
}

// ValidatePartial validates only the named struct fields of s.
func ValidatePartial(s interface{}, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return formatValidation(validate.StructPartial(s, fields...))
}

// ValidateEmailFormat checks an address with checkmail's RFC format rules.
func ValidateEmailFormat(email string) error {
	if err := checkmail.ValidateFormat(strings.TrimSpace(email)); err != nil {
		return NewValidationError("email", "email must be a valid email")
	}
	return nil
}

func formatValidation(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validation: %w", err)
	}

	out := &ValidationError{fields: make(map[string]string, len(verrs))}
	for _, err := range verrs {
		field := toSnake(err.Field())
		tag := err.Tag()
		param := err.Param()

		var msg string
		switch tag {
		case "required", "notblank":
			msg = field + " is required"
		case "phone_digits":
			msg = field + " must be a valid 10-digit phone number"
		case "latitude", "longitude":
			msg = "choose an address from the suggestions so it can be located"
		case "min":
			if err.Kind() == reflect.Slice {
				msg = "select at least " + param + " " + field
			} else {
				msg = field + " must be at least " + param + " characters"
			}
		case "max":
			msg = field + " must be at most " + param + " characters"
		case "gte":
			msg = field + " must be at least " + param
		case "lte":
			msg = field + " must be at most " + param
		case "email":
			msg = field + " must be a valid email"
		case "oneof":
			msg = field + " must be one of: " + strings.ReplaceAll(param, " ", ", ")
		default:
			msg = field + " is invalid"
		}
		if _, seen := out.fields[field]; !seen {
			out.fields[field] = msg
		}
	}
	return out
}

// toSnake turns a Go field name such as PostalCode or ProjectTypes[1] into postal_code / project_types.
func toSnake(s string) string {
	if i := strings.IndexByte(s, '['); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
