package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"claw-companion/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedSchemaValidatesRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v, err := NewOpenAPIValidator("")
	require.NoError(t, err)

	r := gin.New()
	r.Use(errors.ErrorHandler(), v.Middleware())
	r.POST("/api/v1/integrity/reports", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/integrity/reports", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, post(`{"layer":"data","checkType":"message_count"}`))
	assert.Equal(t, http.StatusBadRequest, post(`{"layer":"network","checkType":"message_count"}`))
	assert.Equal(t, http.StatusBadRequest, post(`{"checkType":"ordering"}`))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
