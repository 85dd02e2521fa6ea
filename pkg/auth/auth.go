// Package auth verifies inbound bearer credentials against the identity
// provider's signed access tokens and yields the verified subject id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingCredential is returned when no bearer credential is present
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential is returned when the credential fails verification
	ErrInvalidCredential = errors.New("invalid credential")
)

// Verifier validates a bearer credential and returns the subject id.
type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// JWTVerifier verifies HS256 access tokens issued by the identity provider.
// The provider signs tokens with a shared project secret and stamps paying
// callers with the "authenticated" audience.
type JWTVerifier struct {
	secret   []byte
	audience string
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
// audience is optional; when set, tokens must carry it.
func NewJWTVerifier(secret, audience string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTVerifier{secret: []byte(secret), audience: audience}, nil
}

// Verify implements Verifier
func (v *JWTVerifier) Verify(_ context.Context, credential string) (string, error) {
	if credential == "" {
		return "", ErrMissingCredential
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing subject claim", ErrInvalidCredential)
	}

	return subject, nil
}

// BearerToken extracts the bearer credential from an Authorization header.
// Returns an empty string when the header is absent or malformed.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
