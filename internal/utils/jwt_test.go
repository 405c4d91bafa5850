package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndAuthenticate(t *testing.T) {
	s := NewJWTService("secret")
	userID := uuid.New()

	token, err := s.GenerateToken(userID)
	require.NoError(t, err)

	got, err := s.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestAuthenticateRejectsForeignSignature(t *testing.T) {
	token, err := NewJWTService("other").GenerateToken(uuid.New())
	require.NoError(t, err)

	_, err = NewJWTService("secret").Authenticate(token)
	assert.Error(t, err)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	claims := jwt.MapClaims{
		"user_id": uuid.New().String(),
		"exp":     time.Now().Add(-time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTService("secret").Authenticate(token)
	assert.Error(t, err)
}

func TestAuthenticateRejectsMalformedUserID(t *testing.T) {
	claims := jwt.MapClaims{
		"user_id": "42",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTService("secret").Authenticate(token)
	assert.Error(t, err)
}
