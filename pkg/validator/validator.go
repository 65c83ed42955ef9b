// Package validator registers custom binding tags on gin's validator engine
// and turns validation failures into messages the frontend can show.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	ErrInvalidFormat      = "Invalid format"
	ErrFieldRequired      = "Field is required"
	ErrFieldExceedsMaxLen = "Field exceeds maximum length"
	ErrFieldBelowMinLen   = "Field is below minimum length"
	ErrUnknownValidation  = "Invalid value"
)

// Register installs the custom tags on gin's default validator.
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator engine is not go-playground/validator")
	}
	return RegisterOn(v)
}

// RegisterOn installs the custom tags on v.
func RegisterOn(v *validator.Validate) error {
	if err := v.RegisterValidation("notblank", validateNotBlank); err != nil {
		return fmt.Errorf("register notblank: %w", err)
	}
	if err := v.RegisterValidation("trimmed_min", validateTrimmedMin); err != nil {
		return fmt.Errorf("register trimmed_min: %w", err)
	}
	return nil
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// trimmed_min=N requires at least N runes after trimming surrounding space.
func validateTrimmedMin(fl validator.FieldLevel) bool {
	var n int
	if _, err := fmt.Sscanf(fl.Param(), "%d", &n); err != nil {
		return false
	}
	return len([]rune(strings.TrimSpace(fl.Field().String()))) >= n
}

// Message returns the first validation failure as a readable sentence.
// Non-validation errors (malformed JSON) yield a generic message.
func Message(err error) string {
	var vErrors validator.ValidationErrors
	if !errors.As(err, &vErrors) || len(vErrors) == 0 {
		return "Invalid request body"
	}
	ve := vErrors[0]
	field := ve.Field()
	switch ve.Tag() {
	case "required", "notblank":
		return ErrFieldRequired + ": " + field
	case "max":
		return ErrFieldExceedsMaxLen + ": " + field
	case "min":
		return ErrFieldBelowMinLen + ": " + field
	case "trimmed_min":
		return fmt.Sprintf("%s must be at least %s characters", field, ve.Param())
	case "email", "uuid", "url":
		return ErrInvalidFormat + ": " + field
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, ve.Param())
	default:
		return ErrUnknownValidation + ": " + field
	}
}
