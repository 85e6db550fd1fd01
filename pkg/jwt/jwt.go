package jwt

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrInvalidRole  = errors.New("invalid role")
)

// Role identifies who holds a token. Document writes record it as the
// writer of every entity they touch.
type Role string

const (
	RoleHuman Role = "human"
	RoleAgent Role = "agent"
)

// Valid reports whether r is a known writer role
func (r Role) Valid() bool {
	return r == RoleHuman || r == RoleAgent
}

// Claims represents the claims in a JWT token
type Claims struct {
	Role Role `json:"role"`
	// OwnerID scopes the token to one dashboard; empty means any owner
	OwnerID string `json:"owner_id,omitempty"`
	jwt.RegisteredClaims
}

// HasRole checks if the claims carry role
func (c *Claims) HasRole(role Role) bool {
	return c.Role == role
}

// CanAccessOwner reports whether the token may act on ownerID's document
func (c *Claims) CanAccessOwner(ownerID string) bool {
	return c.OwnerID == "" || c.OwnerID == ownerID
}
