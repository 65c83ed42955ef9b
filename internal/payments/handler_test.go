package payments

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriyet/backend/internal/gateway"
	"github.com/oriyet/backend/internal/middleware"
	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/response"
	"github.com/oriyet/backend/pkg/validator"
)

func newTestRouter(t *testing.T, user *models.User) (*gin.Engine, *store.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, validator.Register())

	s := store.NewMemory()
	svc := NewService(s, &fakeGateway{outcomes: map[string]*gateway.Outcome{}}, &fakeNotifier{}, Config{WebhookAPIKey: webhookKey}, nil)
	h := NewHandler(svc, nil)

	r := gin.New()
	r.POST("/payments/webhook", h.Webhook)
	authed := r.Group("/payments", func(c *gin.Context) {
		if user != nil {
			c.Set(middleware.ContextUserID, user.ID)
			c.Set(middleware.ContextUserRole, string(user.Role))
		}
		c.Next()
	})
	authed.POST("/admin/refund", h.Refund)
	authed.POST("/verify", h.Verify)
	return r, s
}

func send(r *gin.Engine, path string, body string, headers map[string]string) (*httptest.ResponseRecorder, response.Body) {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env response.Body
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestWebhookHandlerAlwaysAnswers200(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w, env := send(r, "/payments/webhook", `{"status":"COMPLETED"}`, map[string]string{gateway.APIKeyHeader: "bad"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Unauthorized webhook request", env.Message)

	w, env = send(r, "/payments/webhook", `not json`, map[string]string{gateway.APIKeyHeader: webhookKey})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Invalid webhook payload", env.Message)

	w, env = send(r, "/payments/webhook", `{"status":"PENDING","metadata":{"transaction_id":"TXN-X"}}`, map[string]string{gateway.APIKeyHeader: webhookKey})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "Transaction not found", env.Message)
}

func TestRefundHandlerValidatesReason(t *testing.T) {
	admin := &models.User{Role: models.RoleAdmin}
	r, _ := newTestRouter(t, admin)

	w, env := send(r, "/payments/admin/refund", `{"transaction_id":"TXN-1","reason":"   short   "}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Reason must be at least 10 characters", env.Message)

	w, env = send(r, "/payments/admin/refund", `{"transaction_id":"TXN-1","reason":"customer double charged"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Transaction not found", env.Message)
}

func TestVerifyHandlerRequiresInvoice(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w, env := send(r, "/payments/verify", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invoice ID is required for payment verification", env.Message)
}
