package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAccessToken(t *testing.T) {
	svc := NewJWTService("test-secret", "1h")

	tokenString, expiresAt, err := svc.GenerateAccessToken("user-1", "company-1", "manager")
	require.NoError(t, err)
	assert.NotEmpty(t, tokenString)
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), expiresAt, 5)

	token, err := svc.JWTAuth().Decode(tokenString)
	require.NoError(t, err)

	for claim, want := range map[string]string{
		"user_id":    "user-1",
		"company_id": "company-1",
		"role":       "manager",
		"type":       "access",
	} {
		got, ok := token.Get(claim)
		require.True(t, ok, claim)
		assert.Equal(t, want, got, claim)
	}
}

func TestGenerateAccessToken_InvalidDuration(t *testing.T) {
	svc := NewJWTService("test-secret", "forever")

	_, _, err := svc.GenerateAccessToken("user-1", "company-1", "owner")
	assert.Error(t, err)
}

func TestDecode_WrongSecret(t *testing.T) {
	tokenString, _, err := NewJWTService("secret-a", "1h").GenerateAccessToken("u", "c", "owner")
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", "1h").JWTAuth().Decode(tokenString)
	assert.Error(t, err)
}
