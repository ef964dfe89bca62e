// Package viewer tells whether a directory request comes from a signed-in user.
package viewer

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Viewer is the caller of a directory request.
type Viewer struct {
	Subject       string `json:"sub,omitempty"`
	UserType      string `json:"user_type,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// Anonymous is the viewer of requests without a valid bearer token.
var Anonymous = Viewer{}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier validates access tokens issued by the account service.
type Verifier struct {
	key     any
	methods []string
	issuer  string
}

// NewRSAVerifier verifies RS256 tokens against a PEM-encoded public key.
func NewRSAVerifier(pemKey []byte, issuer string) (*Verifier, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parse viewer public key: %w", err)
	}
	return &Verifier{key: pub, methods: []string{jwt.SigningMethodRS256.Alg()}, issuer: issuer}, nil
}

// NewHMACVerifier verifies HS256 tokens with a shared secret.
func NewHMACVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{key: secret, methods: []string{jwt.SigningMethodHS256.Alg()}, issuer: issuer}
}

// VerifierFromEnv reads VIEWER_JWT_PUBLIC_KEY (PEM) or VIEWER_JWT_SECRET,
// plus the optional VIEWER_JWT_ISSUER. It returns nil, nil when neither key
// is configured; every request is then anonymous.
func VerifierFromEnv() (*Verifier, error) {
	issuer := os.Getenv("VIEWER_JWT_ISSUER")
	if pemKey := os.Getenv("VIEWER_JWT_PUBLIC_KEY"); pemKey != "" {
		return NewRSAVerifier([]byte(pemKey), issuer)
	}
	if secret := os.Getenv("VIEWER_JWT_SECRET"); secret != "" {
		return NewHMACVerifier([]byte(secret), issuer), nil
	}
	return nil, nil
}

// Verify parses a raw token and returns the viewer it identifies.
func (v *Verifier) Verify(token string) (Viewer, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := jwt.MapClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil || !tkn.Valid {
		return Anonymous, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, _ := claims.GetSubject()
	userType, _ := claims["user_type"].(string)
	return Viewer{Subject: sub, UserType: userType, Authenticated: true}, nil
}

// FromRequest returns the viewer behind the Authorization header. A nil
// Verifier, a missing header or a bad token all yield Anonymous.
func (v *Verifier) FromRequest(r *http.Request) (Viewer, error) {
	if v == nil {
		return Anonymous, nil
	}
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return Anonymous, ErrMissingToken
	}
	return v.Verify(strings.TrimSpace(auth[len("bearer "):]))
}
