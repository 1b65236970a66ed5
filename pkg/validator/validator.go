package validator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/iamgideonidoko/pulse/internal/models"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors collects every field failure of one payload.
type Errors []ValidationError

func (errs Errors) Error() string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (errs Errors) ErrorMap() map[string]string {
	result := make(map[string]string, len(errs))
	for _, e := range errs {
		result[e.Field] = e.Message
	}
	return result
}

// Struct validates v against its validate tags.
func Struct(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(Errors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: message(fe)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// ValidateEvent sanitizes free-text fields in place, then validates.
func ValidateEvent(e *models.TelemetryEvent) error {
	e.PageTitle = SanitizeString(e.PageTitle)
	e.PageURL = SanitizeString(e.PageURL)
	e.Referrer = SanitizeString(e.Referrer)
	e.DeviceModel = SanitizeString(e.DeviceModel)
	return Struct(e)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "max":
		return "too long"
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "gte", "lte":
		return "out of range"
	case "oneof":
		return "must be one of " + fe.Param()
	case "hexadecimal":
		return "invalid format"
	default:
		return "invalid"
	}
}

func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	var result strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
