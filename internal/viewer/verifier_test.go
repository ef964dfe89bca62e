package viewer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestHMACVerifier(t *testing.T) {
	secret := []byte("s3cret")
	v := NewHMACVerifier(secret, "pitchfork")

	tok := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
		"sub": "42", "iss": "pitchfork", "user_type": "client",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	got, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Viewer{Subject: "42", UserType: "client", Authenticated: true}, got)

	expired := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
		"sub": "42", "iss": "pitchfork", "exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
		"sub": "42", "iss": "elsewhere", "exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRSAVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	v, err := NewRSAVerifier(pemKey, "")
	require.NoError(t, err)

	tok := sign(t, jwt.SigningMethodRS256, key, jwt.MapClaims{"sub": "7", "exp": time.Now().Add(time.Minute).Unix()})
	got, err := v.Verify(tok)
	require.NoError(t, err)
	assert.True(t, got.Authenticated)
	assert.Equal(t, "7", got.Subject)

	// HS256 token must not pass an RS256 verifier.
	hs := sign(t, jwt.SigningMethodHS256, []byte("x"), jwt.MapClaims{"sub": "7", "exp": time.Now().Add(time.Minute).Unix()})
	_, err = v.Verify(hs)
	assert.Error(t, err)
}

func TestFromRequest(t *testing.T) {
	var nilVerifier *Verifier
	r := httptest.NewRequest("GET", "/", nil)
	got, err := nilVerifier.FromRequest(r)
	require.NoError(t, err)
	assert.False(t, got.Authenticated)

	v := NewHMACVerifier([]byte("k"), "")
	_, err = v.FromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	tok := sign(t, jwt.SigningMethodHS256, []byte("k"), jwt.MapClaims{"sub": "1", "exp": time.Now().Add(time.Minute).Unix()})
	r.Header.Set("Authorization", "Bearer "+tok)
	got, err = v.FromRequest(r)
	require.NoError(t, err)
	assert.True(t, got.Authenticated)
}
