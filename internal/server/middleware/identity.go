package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// userIDKey is the request context key under which the caller identity is
// stored.
const userIDKey contextKey = "user_id"

// Identity returns middleware that extracts the caller identity from the
// X-User-ID header and stores it in the request context. Requests without
// the header pass through with an empty identity; endpoints that require one
// reject via UserID.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if userID != "" {
				ctx := context.WithValue(r.Context(), userIDKey, userID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserID returns the caller identity stored by Identity, or "" when the
// request carried none.
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
