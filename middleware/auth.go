// --- middleware/auth.go ---
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/abefas/tasktracker/models"
)

// ContextKey is a custom type to avoid context key collisions.
type ContextKey string

// IdentityKey is the key we'll use to store the caller's identity in the request context.
const IdentityKey ContextKey = "identity"

// Resolver turns a bearer token into an identity. *auth.ContextBuilder
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, token string) (models.Identity, error)
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// IdentityFromContext returns the identity stored by Authenticate.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(models.Identity)
	return identity, ok && identity.Authenticated()
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is case sensitive and must be followed by exactly
// one space.
func BearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// Authenticate checks for a valid bearer token and adds the caller's
// identity to the request context.
func Authenticate(resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				logger.Debug("authorization header missing or malformed", "path", r.URL.Path)
				writeMessage(w, http.StatusUnauthorized, "No token provided")
				return
			}

			identity, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				logger.Info("token rejected", "path", r.URL.Path, "err", err)
				writeMessage(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			noteSubject(r.Context(), identity.SubjectID)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
