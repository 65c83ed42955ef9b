package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1, "oriyet")
	id := uuid.New()

	token, err := svc.Generate(id, "a@example.com", "admin")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, id.String(), claims.Subject)
}

func TestJWTRejectsForeignTokens(t *testing.T) {
	token, err := NewJWTService("other", 1, "oriyet").Generate(uuid.New(), "a@example.com", "user")
	require.NoError(t, err)

	_, err = NewJWTService("secret", 1, "oriyet").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err = NewJWTService("secret", 1, "someone-else").Generate(uuid.New(), "a@example.com", "user")
	require.NoError(t, err)
	_, err = NewJWTService("secret", 1, "oriyet").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTExpired(t *testing.T) {
	svc := NewJWTService("secret", -1, "")
	token, err := svc.Generate(uuid.New(), "a@example.com", "user")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
