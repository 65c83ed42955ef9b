package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindBusinessRule:    http.StatusBadRequest,
		KindNotFound:        http.StatusNotFound,
		KindAuthorization:   http.StatusForbidden,
		KindUnauthenticated: http.StatusUnauthorized,
		KindConflict:        http.StatusConflict,
		KindUpstream:        http.StatusBadGateway,
		KindUnavailable:     http.StatusServiceUnavailable,
		KindConfiguration:   http.StatusInternalServerError,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.HTTPStatus(), kind.String())
	}
}

func TestFromWrappedChain(t *testing.T) {
	base := NotFound("Event not found")
	wrapped := fmt.Errorf("register: %w", base)

	got, ok := From(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "Event not found", got.Message)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindNotFound))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Upstream("Failed to verify payment with gateway", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "upstream")
}
