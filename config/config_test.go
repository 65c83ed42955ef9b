package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("UDDOKTAPAY_API_KEY", "key")
	t.Setenv("UDDOKTAPAY_WEBHOOK_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimit.InitiateLimit)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.InitiateWindow)
	assert.Equal(t, 30*time.Minute, cfg.Payment.PendingTTL)
	assert.Equal(t, "key", cfg.Payment.WebhookAPIKey)
	assert.Equal(t, 5*time.Minute, cfg.Worker.ExpireInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("PAYMENT_PENDING_TTL", "45m")
	t.Setenv("RATE_LIMIT_VERIFY", "3")
	t.Setenv("FRONTEND_URL", "https://oriyet.org")
	t.Setenv("BACKEND_URL", "https://api.oriyet.org")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.Payment.PendingTTL)
	assert.Equal(t, 3, cfg.RateLimit.VerifyLimit)
	assert.Equal(t, "https://oriyet.org/payment/success", cfg.App.RedirectURL())
	assert.Equal(t, "https://api.oriyet.org/payments/webhook", cfg.App.WebhookURL())
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())
	c.URL = "postgres://x"
	assert.Equal(t, "postgres://x", c.DSN())
}
