package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = stderrors.New("thing missing")

func TestFromError(t *testing.T) {
	RegisterMapper(func(err error) *AppError {
		if stderrors.Is(err, errMissing) {
			return NewNotFoundError("THING_NOT_FOUND", "no such thing")
		}
		return nil
	})

	wrapped := fmt.Errorf("lookup: %w", errMissing)
	appErr := FromError(wrapped)
	assert.Equal(t, http.StatusNotFound, appErr.StatusCode)
	assert.ErrorIs(t, appErr, errMissing)

	direct := NewConflictError("C", "conflict")
	assert.Same(t, direct, FromError(fmt.Errorf("outer: %w", direct)))
	assert.True(t, Is(fmt.Errorf("outer: %w", direct), &AppError{Code: "C"}))

	assert.Equal(t, http.StatusGatewayTimeout, GetStatusCode(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(stderrors.New("boom")))
	assert.Nil(t, FromError(nil))
}

func TestErrorHandlerAndRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(), RecoveryWithLogger())
	r.GET("/conflict", func(c *gin.Context) {
		_ = c.Error(ConflictWithDetails("VERSION_CONFLICT", "stale", gin.H{"actualVersion": 3}))
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conflict", nil))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":{"code":"VERSION_CONFLICT","message":"stale","details":{"actualVersion":3}}}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "SERVER_ERROR")
}
