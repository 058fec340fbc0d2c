package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/AnshRaj112/studycrew-backend/internal/auth"
)

// IdentityResolver maps a request credential to a user identity.
type IdentityResolver func(ctx context.Context, token string) (auth.Identity, error)

// RequireAuth rejects requests without a valid credential and stores the
// resolved identity on the request context.
func RequireAuth(resolve IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolve(r.Context(), auth.TokenFromRequest(r))
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
			case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"message":"Unauthorized","code":"unauthenticated"}`))
			default:
				log.Printf("auth: resolving identity failed: %v", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"success":false,"message":"Authentication is temporarily unavailable"}`))
			}
		})
	}
}
