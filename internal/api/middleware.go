package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// WorkerTokenAuth validates requests against the shared worker token.
// It accepts Authorization: Bearer <token> or the X-Worker-Token header.
func WorkerTokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Worker-Token")
			if provided == "" {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					provided = strings.TrimPrefix(authHeader, "Bearer ")
				}
			}

			if provided == "" {
				respondError(w, http.StatusUnauthorized, "Missing worker token. Provide Authorization: Bearer <token> or X-Worker-Token header")
				return
			}

			// Constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				respondError(w, http.StatusForbidden, "Invalid worker token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
