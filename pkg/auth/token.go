// Package auth verifies bearer credentials and carries the authenticated
// recipient identity through the request context.
//
// Tokens are HS256 JWTs whose subject is the caller identity. Recipient tokens
// carry no scope; service tokens carry ScopePublish in the space-separated
// "scope" claim and may publish to any recipient. The signing
// secret must be at least 32 bytes in production; generate one with:
//
//	openssl rand -base64 32
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails parsing or validation.
var ErrInvalidToken = errors.New("invalid token")

// ScopePublish allows publishing notifications to any recipient.
const ScopePublish = "notifications:publish"

// Claims is the token payload. Subject carries the caller identity.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Identity is a verified caller.
type Identity struct {
	Subject string
	Scopes  []string
}

// HasScope reports whether the identity was granted scope.
func (i Identity) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// TokenVerifier issues and verifies recipient tokens with a shared secret.
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenVerifier returns a verifier for tokens signed with secret and
// issued by issuer.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for recipient valid for ttl, granting scopes.
func (v *TokenVerifier) Issue(recipient string, ttl time.Duration, scopes ...string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", fmt.Errorf("issue token: %w", ErrRecipientNotFound)
	}
	now := v.now()
	claims := Claims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   recipient,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses raw and returns the identity it was issued for.
func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims,
		func(_ *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{Subject: claims.Subject, Scopes: strings.Fields(claims.Scope)}, nil
}
