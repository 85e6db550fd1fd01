package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.GenerateToken("phone-1", RoleHuman, "owner-1")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "phone-1", claims.Subject)
	assert.True(t, claims.HasRole(RoleHuman))
	assert.False(t, claims.HasRole(RoleAgent))
	assert.True(t, claims.CanAccessOwner("owner-1"))
	assert.False(t, claims.CanAccessOwner("owner-2"))
}

func TestUnscopedTokenReachesAnyOwner(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.GenerateToken("bot", RoleAgent, "")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.CanAccessOwner("anyone"))
}

func TestRejectsUnknownRole(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	_, err := svc.GenerateToken("x", Role("admin"), "")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestExpiredToken(t *testing.T) {
	svc := NewService("test-secret", time.Minute)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, err := svc.GenerateToken("x", RoleAgent, "")
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestWrongSecret(t *testing.T) {
	token, err := NewService("a", time.Hour).GenerateToken("x", RoleHuman, "")
	require.NoError(t, err)

	_, err = NewService("b", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewService("a", time.Hour).ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
