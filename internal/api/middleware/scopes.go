package middleware

import (
	"encoding/json"
	"net/http"
)

// jsonForbidden writes a forbidden error response.
func jsonForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "FORBIDDEN",
			"message": "token does not grant access",
		},
	})
}

// RequireScope returns middleware that requires the token to carry the
// given scope. It must run after TokenAuth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				jsonForbidden(w)
				return
			}

			if !claims.HasScope(scope) {
				jsonForbidden(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
