package middleware

import (
	"strings"

	"claw-companion/backend/pkg/errors"
	"claw-companion/backend/pkg/jwt"
	"claw-companion/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	// ClaimsKey holds the validated *jwt.Claims
	ClaimsKey = "claims"
	// SubjectKey holds the token subject
	SubjectKey = "subject"
	// RoleKey holds the token role
	RoleKey = "role"
)

// TokenValidator is satisfied by *jwt.Service
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// JWTAuthMiddleware checks that the request has a valid JWT and adds claims to the context
func JWTAuthMiddleware(validator TokenValidator, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			// browsers cannot set headers on a websocket upgrade
			token = c.Query("access_token")
		}
		if token == "" {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authorization header is required"))
			c.Abort()
			return
		}
		token = strings.TrimPrefix(token, "Bearer ")

		claims, err := validator.ValidateToken(token)
		if err != nil {
			log.Warn("invalid JWT token", "error", err.Error(), "path", c.Request.URL.Path)
			c.Error(errors.NewUnauthorizedError("INVALID_TOKEN", "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(SubjectKey, claims.Subject)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by JWTAuthMiddleware
func ClaimsFrom(c *gin.Context) (*jwt.Claims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok && claims != nil
}

// RequireAnyRole returns middleware that requires the caller to hold one of roles
func RequireAnyRole(roles ...jwt.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
			c.Abort()
			return
		}

		for _, role := range roles {
			if claims.HasRole(role) {
				c.Next()
				return
			}
		}

		c.Error(errors.NewForbiddenError("INSUFFICIENT_ROLE", "Your role does not allow this operation"))
		c.Abort()
	}
}

// RequireOwnerAccess rejects tokens scoped to a different owner than the
// one named by the path parameter param
func RequireOwnerAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
			c.Abort()
			return
		}
		if !claims.CanAccessOwner(c.Param(param)) {
			c.Error(errors.NewForbiddenError("OWNER_MISMATCH", "Token is not valid for this document"))
			c.Abort()
			return
		}
		c.Next()
	}
}
