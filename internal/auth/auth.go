// Package auth verifies bearer tokens and maps them to an opaque user id.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the only token type accepted on API requests.
const TokenTypeAccess = "access"

// DefaultAccessTTL is the lifetime of tokens issued by IssueAccessToken.
const DefaultAccessTTL = time.Hour

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims of an access token.
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 access tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is not configured")
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify returns the user id carried by an access token.
func (v *Verifier) Verify(token string) (string, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != TokenTypeAccess {
		return "", fmt.Errorf("%w: token type mismatch", ErrInvalidToken)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: token subject missing", ErrInvalidToken)
	}
	return sub, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// IssueAccessToken signs an access token for userID. It exists for local tooling;
// production tokens come from the identity provider.
func IssueAccessToken(secret, userID string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("JWT secret is not configured")
	}
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return signed, nil
}
