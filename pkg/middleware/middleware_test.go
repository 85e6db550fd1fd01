package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"claw-companion/backend/pkg/errors"
	"claw-companion/backend/pkg/jwt"
	"claw-companion/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func authRouter(svc *jwt.Service) *gin.Engine {
	r := gin.New()
	r.Use(errors.ErrorHandler())
	g := r.Group("/documents/:owner", JWTAuthMiddleware(svc, logger.Nop()), RequireOwnerAccess("owner"))
	g.GET("", func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, string(claims.Role))
	})
	g.POST("", RequireAnyRole(jwt.RoleHuman), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	svc := jwt.NewService("secret", time.Hour)
	r := authRouter(svc)

	human, err := svc.GenerateToken("phone", jwt.RoleHuman, "owner-1")
	require.NoError(t, err)
	agent, err := svc.GenerateToken("bot", jwt.RoleAgent, "")
	require.NoError(t, err)

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/documents/owner-1", "").Code)
	})
	t.Run("garbage token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/documents/owner-1", "abc").Code)
	})
	t.Run("role reaches handler", func(t *testing.T) {
		w := do(r, http.MethodGet, "/documents/owner-1", agent)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "agent", w.Body.String())
	})
	t.Run("owner scope", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/documents/owner-2", human).Code)
	})
	t.Run("role required", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/documents/owner-1", agent).Code)
		assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/documents/owner-1", human).Code)
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(logger.Nop(), RateLimiterOptions{
		Limit: 0.001,
		Burst: 2,
		KeyFunc: func(c *gin.Context) string {
			return c.GetHeader("X-Client")
		},
	})
	defer rl.Stop()

	r := gin.New()
	r.Use(errors.ErrorHandler(), rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Client", client)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"))
	assert.Equal(t, http.StatusOK, call("b"))
}

func TestRequestIDPropagation(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	var got string
	r.GET("/", func(c *gin.Context) {
		got = GetRequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "req-42", got)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "req-42", got)
}
