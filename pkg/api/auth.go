package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// bearerAuth returns middleware requiring a valid HS256 bearer token on
// every endpoint except /health. A nil or empty secret disables auth
// entirely, which is the paper-trading default.
func bearerAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(secret) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				WriteUnauthorized(w, "missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				WriteUnauthorized(w, "expected 'Bearer <token>'")
				return
			}

			token, err := jwt.Parse(parts[1], func(t *jwt.Token) (any, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				WriteUnauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
