package httpapi

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError is a single struct-tag validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string { return e.Message }

// ValidationErrors collects every failing field.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "; ")
}

var validate = validator.New()

// validateBody runs struct-tag validation over a decoded control API
// request body. OCPP wire messages are checked separately, by
// internal/csms/station's own decode-time validation.
func validateBody(body interface{}) error {
	err := validate.Struct(body)
	if err == nil {
		return nil
	}
	var out ValidationErrors
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Field:   fe.Field(),
				Tag:     fe.Tag(),
				Message: fieldErrorMessage(fe),
			})
		}
	}
	return out
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("field '%s' must not exceed %s", fe.Field(), fe.Param())
	case "alphanum":
		return fmt.Sprintf("field '%s' must be alphanumeric", fe.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation for tag '%s'", fe.Field(), fe.Tag())
	}
}
