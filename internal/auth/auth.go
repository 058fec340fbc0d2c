// Package auth resolves connection credentials to a user identity.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingToken = errors.New("authentication token is required")
	ErrInvalidToken = errors.New("invalid or expired authentication token")
)

// Identity is the verified user bound to a connection or request.
type Identity struct {
	UserID   string
	Username string
}

// Authenticator verifies a bearer credential (scheme already stripped).
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// StripScheme removes a leading "Bearer " (any case) from a credential.
func StripScheme(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}

// TokenFromRequest reads the credential from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query
// parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return StripScheme(h)
	}
	return StripScheme(r.URL.Query().Get("token"))
}

// Chain tries each authenticator in order and returns the first success.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = StripScheme(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	var lastErr error = ErrInvalidToken
	for _, a := range c {
		id, err := a.Authenticate(ctx, token)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrInvalidToken) {
			lastErr = err
		}
	}
	return Identity{}, lastErr
}

type contextKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
