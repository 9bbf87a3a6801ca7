package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	userID := uuid.New()

	token, err := GenerateToken(userID, secret, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := UserIDFromToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken(uuid.New(), []byte("secret-a"), time.Hour)
	require.NoError(t, err)

	_, err = UserIDFromToken(token, []byte("secret-b"))
	assert.Error(t, err)
}

func TestTokenExpired(t *testing.T) {
	token, err := GenerateToken(uuid.New(), []byte("secret"), -time.Minute)
	require.NoError(t, err)

	_, err = UserIDFromToken(token, []byte("secret"))
	assert.Error(t, err)
}

func TestTokenGarbage(t *testing.T) {
	_, err := UserIDFromToken("not-a-token", []byte("secret"))
	assert.Error(t, err)
}
