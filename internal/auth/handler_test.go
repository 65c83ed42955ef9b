package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/response"
	"github.com/oriyet/backend/pkg/validator"
)

func newTestRouter(t *testing.T) (*gin.Engine, *JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, validator.Register())

	jwtSvc := NewJWTService("test-secret", 1, "oriyet")
	h := NewHandler(NewService(store.NewMemory().Users(), jwtSvc, nil), nil)

	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/auth/me", func(c *gin.Context) {
		claims, err := jwtSvc.Validate(c.GetHeader("X-Token"))
		if err != nil {
			response.Unauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
	}, h.Me)
	return r, jwtSvc
}

func do(r *gin.Engine, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, response.Body) {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
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

func sessionToken(t *testing.T, env response.Body) string {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var s Session
	require.NoError(t, json.Unmarshal(raw, &s))
	require.NotEmpty(t, s.Token)
	return s.Token
}

func TestRegisterLoginMe(t *testing.T) {
	r, jwtSvc := newTestRouter(t)

	w, env := do(r, http.MethodPost, "/auth/register",
		`{"name":"Nadia Rahman","email":"Nadia@Example.com","password":"supersecret"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, env.Success)
	claims, err := jwtSvc.Validate(sessionToken(t, env))
	require.NoError(t, err)
	assert.Equal(t, "nadia@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)

	w, env = do(r, http.MethodPost, "/auth/login", `{"email":"nadia@example.com","password":"supersecret"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := sessionToken(t, env)

	w, env = do(r, http.MethodGet, "/auth/me", "", map[string]string{"X-Token": token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Profile retrieved successfully", env.Message)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	r, _ := newTestRouter(t)
	body := `{"name":"A","email":"dup@example.com","password":"supersecret"}`

	w, _ := do(r, http.MethodPost, "/auth/register", body, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := do(r, http.MethodPost, "/auth/register", body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Email already registered", env.Message)
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	w, env := do(r, http.MethodPost, "/auth/register", `{"name":"A","email":"a@example.com","password":"short"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)

	w, _ = do(r, http.MethodPost, "/auth/register", `{"name":"   ","email":"a@example.com","password":"supersecret"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	r, _ := newTestRouter(t)
	w, _ := do(r, http.MethodPost, "/auth/register", `{"name":"A","email":"a@example.com","password":"supersecret"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := do(r, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"wrongpassword"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid email or password", env.Message)

	w, env = do(r, http.MethodPost, "/auth/login", `{"email":"nobody@example.com","password":"wrongpassword"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid email or password", env.Message)
}
