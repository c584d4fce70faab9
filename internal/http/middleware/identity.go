package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/careeros/careeros-back/internal/auth"
)

type contextKey string

const userIDKey contextKey = "userID"

// UserID extracts the authenticated user id from the request context.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithUserID is used by tests to seed an authenticated context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Identity validates the Bearer token on every request and hangs the
// resolved user id on the context. Requests without a valid token never
// reach the handlers.
func Identity(authn *auth.Authenticator, skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipped[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, `{"success":false,"error":"unauthorized","message":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			userID, err := authn.Verify(token)
			if err != nil {
				http.Error(w, `{"success":false,"error":"unauthorized","message":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
