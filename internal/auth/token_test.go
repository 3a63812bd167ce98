package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_MintAndVerify(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), 0)

	token, err := issuer.Mint("fire-tv-01")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	deviceID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "fire-tv-01", deviceID)
}

func TestTokenIssuer_Verify_WrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), 0)
	other := NewTokenIssuer([]byte("other-secret"), 0)

	token, err := issuer.Mint("fire-tv-01")
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_Verify_Expired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), -time.Minute)

	token, err := issuer.Mint("fire-tv-01")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenIssuer_Verify_Garbage(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), 0)

	_, err := issuer.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	r, _ := http.NewRequest(http.MethodPost, "/", nil)
	assert.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", BearerToken(r))

	r.Header.Set("Authorization", "Basic abc123")
	assert.Empty(t, BearerToken(r))
}
