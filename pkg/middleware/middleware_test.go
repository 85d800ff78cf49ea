package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit())
	r.POST("/api/v1/auth/token", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doRequest(r *gin.Engine, method, path, ip string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":51000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_PerIPOnAuthEndpoint(t *testing.T) {
	r := newLimitedRouter()

	first := doRequest(r, http.MethodPost, "/api/v1/auth/token", "10.0.0.1", nil)
	assert.Equal(t, http.StatusOK, first.Code)

	// Burst is 1; an immediate second request from the same IP is rejected
	second := doRequest(r, http.MethodPost, "/api/v1/auth/token", "10.0.0.1", nil)
	assert.Equal(t, http.StatusBadRequest, second.Code)

	// A different client is unaffected
	other := doRequest(r, http.MethodPost, "/api/v1/auth/token", "10.0.0.2", nil)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimit_UnmatchedPathsUnlimited(t *testing.T) {
	r := newLimitedRouter()
	for i := 0; i < 20; i++ {
		w := doRequest(r, http.MethodGet, "/health", "10.0.0.3", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const secret = "test-secret"
	r := gin.New()
	r.Use(JWTAuth(secret))
	r.GET("/protected", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("clientID"))
	})

	// No authorization header
	w := doRequest(r, http.MethodGet, "/protected", "10.0.0.4", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid token carries the client ID into the request context
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"client_id": "api-client",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	w = doRequest(r, http.MethodGet, "/protected", "10.0.0.4", map[string]string{
		"Authorization": "Bearer " + signed,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "api-client", w.Body.String())

	// Token signed with the wrong secret
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"client_id": "api-client",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	w = doRequest(r, http.MethodGet, "/protected", "10.0.0.4", map[string]string{
		"Authorization": "Bearer " + forged,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
