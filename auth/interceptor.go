package auth

import (
	"context"
	"net/http"
	"strings"
)

// Paths that do not require a bearer token.
var publicPaths = map[string]struct{}{
	"/healthz": {},
}

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RolesKey  contextKey = "roles"
)

// Unauthorized writes the rejection. It is injected so the HTTP layer keeps
// one error body format.
type Unauthorized func(w http.ResponseWriter, r *http.Request, err error)

// Middleware validates the bearer token of every non public request and puts
// the caller's user id in the request context.
// Browsers cannot set headers on a websocket upgrade, so the token may also
// come as the access_token query parameter.
func Middleware(tokens *TokenManager, unauthorized Unauthorized) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := tokens.ValidateToken(bearer(r))
			if err != nil {
				unauthorized(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RolesKey, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFrom returns the authenticated caller.
func UserIDFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

func bearer(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}

func isPublicPath(path string) bool {
	_, ok := publicPaths[path]
	return ok
}
