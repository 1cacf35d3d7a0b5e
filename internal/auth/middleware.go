package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/devicelock/internal/identity"
	"github.com/BradenHooton/devicelock/internal/models"
	pkghttp "github.com/BradenHooton/devicelock/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
)

// AuthMiddleware validates bearer tokens and injects the claims into the
// request context
func AuthMiddleware(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionLookup resolves the user signed in on this device
type SessionLookup interface {
	CurrentUser(ctx context.Context) (*identity.User, error)
}

// RequireSessionUser rejects tokens that do not belong to the user signed
// in on this device. Must run after AuthMiddleware.
func RequireSessionUser(sessions SessionLookup) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			user, err := sessions.CurrentUser(r.Context())
			if err != nil {
				if errors.Is(err, models.ErrNoSession) {
					pkghttp.WriteError(w, http.StatusConflict, "no_session", "no user is signed in on this device")
					return
				}
				pkghttp.WriteInternalError(w, "failed to resolve session")
				return
			}

			if user.ID != claims.UserID {
				pkghttp.WriteForbidden(w, "token does not belong to the signed-in user")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
