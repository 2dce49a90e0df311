package auth

import (
	"context"
	"errors"
)

// contextKey is an unexported type to prevent key collisions in context.
type contextKey string

const identityKey contextKey = "identity"

// ErrRecipientNotFound is returned when no recipient identity exists in the
// request context. Handlers should return 401 when this error occurs.
var ErrRecipientNotFound = errors.New("recipient not found in context")

// ErrForbidden is returned when the caller lacks a required scope.
var ErrForbidden = errors.New("insufficient scope")

// RecipientFromCtx extracts the authenticated recipient identity from the
// request context.
func RecipientFromCtx(ctx context.Context) (string, error) {
	id, err := IdentityFromCtx(ctx)
	if err != nil {
		return "", err
	}
	return id.Subject, nil
}

// IdentityFromCtx extracts the verified caller, scopes included.
func IdentityFromCtx(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.Subject == "" {
		return Identity{}, ErrRecipientNotFound
	}
	return id, nil
}

// WithIdentity returns a new context with the verified caller attached.
// Used by authentication middleware after validating the token.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// WithRecipient attaches a recipient identity without scopes.
func WithRecipient(ctx context.Context, recipient string) context.Context {
	return WithIdentity(ctx, Identity{Subject: recipient})
}
