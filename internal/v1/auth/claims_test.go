package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, tokenClaims{
		Name: "speedrunner42",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	c, err := ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", c.UserID)
	assert.Equal(t, "speedrunner42", c.Username)
	assert.True(t, exp.Equal(c.ExpiresAt))
	assert.False(t, c.Expired(time.Now()))
}

func TestParseClaims_UniqueNameFallback(t *testing.T) {
	token := signToken(t, tokenClaims{
		UniqueName:       "retro_fan",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-8"},
	})

	c, err := ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "retro_fan", c.Username)
	assert.True(t, c.ExpiresAt.IsZero())
	assert.False(t, c.Expired(time.Now()))
}

func TestParseClaims_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"missing subject", signToken(t, jwt.RegisteredClaims{Issuer: "game-wrld"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClaims(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestCheckToken_Expired(t *testing.T) {
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "user-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})

	_, err := CheckToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestCheckToken_Valid(t *testing.T) {
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "user-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	c, err := CheckToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", c.UserID)
}
