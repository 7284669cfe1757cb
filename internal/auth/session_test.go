package auth

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Setenv("TOKEN_EXPIRE_TIME", "1h")
	require.NoError(t, Init())

	userID := uuid.New()
	token, err := CreateJWT(userID)
	require.NoError(t, err)

	got, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestRejectsForeignAndExpiredTokens(t *testing.T) {
	t.Setenv("TOKEN_EXPIRE_TIME", "never")
	require.NoError(t, Init())

	_, err := AuthenticateJWT("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// signed by a different key
	_, otherKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{"sub": uuid.NewString()}).SignedString(otherKey)
	require.NoError(t, err)
	_, err = AuthenticateJWT(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString(privateKey)
	require.NoError(t, err)
	_, err = AuthenticateJWT(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	notUUID, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{"sub": "alice"}).SignedString(privateKey)
	require.NoError(t, err)
	_, err = AuthenticateJWT(notUUID)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestInitFromPath(t *testing.T) {
	t.Setenv("TOKEN_EXPIRE_TIME", "")
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "priv")
	pubPath := filepath.Join(dir, "pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o644))

	require.NoError(t, InitFromPath(privPath, pubPath))
	token, err := CreateJWT(uuid.New())
	require.NoError(t, err)
	_, err = AuthenticateJWT(token)
	assert.NoError(t, err)

	assert.Error(t, InitFromPath(filepath.Join(dir, "missing"), pubPath))
	require.NoError(t, os.WriteFile(pubPath, []byte("short"), 0o644))
	assert.Error(t, InitFromPath(privPath, pubPath))
}

func TestBadExpireTime(t *testing.T) {
	t.Setenv("TOKEN_EXPIRE_TIME", "soon")
	assert.Error(t, Init())
}
