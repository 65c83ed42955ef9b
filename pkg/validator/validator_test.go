package validator

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refundBody struct {
	Reason string `validate:"required,trimmed_min=10"`
	Note   string `validate:"omitempty,notblank"`
}

func newValidator(t *testing.T) *validator.Validate {
	t.Helper()
	v := validator.New()
	require.NoError(t, RegisterOn(v))
	return v
}

func TestTrimmedMin(t *testing.T) {
	v := newValidator(t)

	err := v.Struct(refundBody{Reason: "   short    "})
	require.Error(t, err)
	assert.Equal(t, "Reason must be at least 10 characters", Message(err))

	assert.NoError(t, v.Struct(refundBody{Reason: "duplicate charge on card"}))
}

func TestNotBlank(t *testing.T) {
	v := newValidator(t)
	err := v.Struct(refundBody{Reason: "long enough reason", Note: "   "})
	require.Error(t, err)
	assert.Equal(t, "Field is required: Note", Message(err))
}

func TestMessageForNonValidationError(t *testing.T) {
	assert.Equal(t, "Invalid request body", Message(errors.New("unexpected EOF")))
}
