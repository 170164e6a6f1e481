// Package middleware provides HTTP middleware for the Strongbox API.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/strongbox-io/strongbox/internal/api/auth"
	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// Context key type for request-scoped values
type contextKey string

const userContextKey contextKey = "user"

// UserFromContext retrieves the authenticated user from the request
// context. Returns nil outside routes protected by SessionAuth.
func UserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(userContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// SessionAuth validates the session cookie and loads the current user into
// the request context. Requests without a valid session get 401.
func SessionAuth(jwtService *auth.JWTService, st *store.GORMStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.SessionToken(r)
			if !ok {
				unauthorized(w, "Authentication required")
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				unauthorized(w, "Invalid or expired session")
				return
			}

			user, err := st.GetUserByID(r.Context(), claims.Subject)
			if err != nil {
				// The account may have been deleted after the token was
				// issued. The session is no longer valid either way.
				unauthorized(w, "Invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole blocks users below the given role. Must be used after
// SessionAuth.
func RequireRole(role models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				unauthorized(w, "Authentication required")
				return
			}
			if !user.GetRole().AtLeast(role) {
				forbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin blocks users below the admin role.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(models.RoleAdmin)
}

// ClientIP returns the request's client IP. When trustProxy is set the
// leftmost X-Forwarded-For entry wins, otherwise the connection address is
// used.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip := strings.TrimSpace(strings.Split(xff, ",")[0])
			if ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
