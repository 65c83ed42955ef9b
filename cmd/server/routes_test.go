package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriyet/backend/config"
	"github.com/oriyet/backend/internal/analytics"
	"github.com/oriyet/backend/internal/auth"
	"github.com/oriyet/backend/internal/certificates"
	"github.com/oriyet/backend/internal/emaillogs"
	"github.com/oriyet/backend/internal/events"
	"github.com/oriyet/backend/internal/gateway"
	"github.com/oriyet/backend/internal/payments"
	"github.com/oriyet/backend/internal/registrations"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/validator"
)

type allowAll struct{}

func (allowAll) Incr(context.Context, string, time.Duration) (int64, error) { return 1, nil }

func testRouter(t *testing.T) (*gin.Engine, *auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, validator.Register())

	st := store.NewMemory()
	jwtService := auth.NewJWTService("test-secret", 1, "oriyet")
	cfg := &config.Config{
		Server:    config.ServerConfig{CORSAllowedOrigins: "*"},
		RateLimit: config.RateLimitConfig{InitiateLimit: 5, InitiateWindow: time.Minute, VerifyLimit: 5, VerifyWindow: time.Minute, WebhookLimit: 5, WebhookWindow: time.Minute},
	}
	h := handlers{
		auth:          auth.NewHandler(auth.NewService(st.Users(), jwtService, nil), nil),
		events:        events.NewHandler(events.NewService(st, nil), nil),
		registrations: registrations.NewHandler(registrations.NewService(st, nil, nil), nil),
		payments:      payments.NewHandler(payments.NewService(st, gateway.NewClient(gateway.Config{}, nil, nil), nil, payments.Config{WebhookAPIKey: "k"}, nil), nil),
		certificates:  certificates.NewHandler(certificates.NewService(st, nil, nil, nil, "http://localhost:3000", nil), nil),
		emailLogs:     emaillogs.NewHandler(emaillogs.NewMemory(), nil, nil),
		analytics:     analytics.NewHandler(nil, st.Events(), nil),
	}
	return newRouter(cfg, h, jwtService, allowAll{}, nil), jwtService
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := testRouter(t)
	w := get(r, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r, _ := testRouter(t)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/registrations/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/payments/admin/all", "").Code)
}

func TestAdminRoutesRejectUsers(t *testing.T) {
	r, jwtService := testRouter(t)
	userToken, err := jwtService.Generate(uuid.New(), "u@example.com", "user")
	require.NoError(t, err)
	adminToken, err := jwtService.Generate(uuid.New(), "a@example.com", "admin")
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, get(r, "/payments/admin/all", userToken).Code)
	assert.Equal(t, http.StatusOK, get(r, "/payments/admin/all", adminToken).Code)
	assert.Equal(t, http.StatusOK, get(r, "/registrations/me", userToken).Code)
}

func TestUnknownRoute(t *testing.T) {
	r, _ := testRouter(t)
	assert.Equal(t, http.StatusNotFound, get(r, "/nope", "").Code)
}
