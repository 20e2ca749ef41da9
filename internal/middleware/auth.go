package middleware

import (
	"context"
	"net/http"

	"github.com/jhyang-dev/reverie/backend/pkg/utils"
)

type contextKey string

const userIDKey contextKey = "userID"

// RequireUser rejects requests without an X-User-ID header and stores the
// identity in the request context. The upstream gateway performs the real
// authentication; this backend only consumes the forwarded identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			utils.RespondError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user id from the context, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
