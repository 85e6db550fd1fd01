package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Key types for context values
type contextKey string

const (
	// RequestIDKey is the key for request ID values in contexts
	RequestIDKey contextKey = "requestID"
	// SubjectCtxKey is the key for the authenticated token subject
	SubjectCtxKey contextKey = "subject"
)

// RequestIDMiddleware makes sure every request carries an X-Request-ID
// before the logging middleware reads it
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
			c.Request.Header.Set("X-Request-ID", requestID)
		}

		ctx := context.WithValue(c.Request.Context(), RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Set("requestID", requestID)
		c.Next()
	}
}

// WithRequestContext copies the request ID and subject from c onto parent.
// Handlers use it to start work that outlives the request.
func WithRequestContext(parent context.Context, c *gin.Context) context.Context {
	ctx := parent
	if requestID, exists := c.Get("requestID"); exists {
		ctx = context.WithValue(ctx, RequestIDKey, requestID)
	}
	if subject, exists := c.Get(SubjectKey); exists {
		ctx = context.WithValue(ctx, SubjectCtxKey, subject)
	}
	return ctx
}

// GetRequestID extracts the request ID from a context
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetSubject extracts the token subject from a context
func GetSubject(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(SubjectCtxKey).(string); ok {
		return subject
	}
	return ""
}
