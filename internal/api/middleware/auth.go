package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/emberwatch/emberwatch/internal/api/auth"
	"github.com/emberwatch/emberwatch/internal/metrics"
)

// Context keys for storing token information.
type contextKey string

const (
	tokenNameKey contextKey = "token_name"
	claimsKey    contextKey = "claims"
)

// jsonUnauthorized writes an unauthorized error response.
func jsonUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": "invalid or expired token",
		},
	})
}

// TokenAuth returns middleware that validates bearer service tokens.
func TokenAuth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
				jsonUnauthorized(w)
				return
			}

			// Parse Bearer token
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
				jsonUnauthorized(w)
				return
			}

			tokenString := parts[1]

			// Validate token
			claims, err := tokens.Validate(tokenString)
			if err != nil {
				log.Printf("[api] token auth failed for %s: %v", r.RemoteAddr, err)
				metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
				jsonUnauthorized(w)
				return
			}
			metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()

			// Add claims to context
			ctx := r.Context()
			ctx = context.WithValue(ctx, tokenNameKey, claims.Name)
			ctx = context.WithValue(ctx, claimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTokenName returns the authenticated client name from context.
func GetTokenName(ctx context.Context) string {
	if v := ctx.Value(tokenNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetClaims returns the token claims from context.
func GetClaims(ctx context.Context) *auth.Claims {
	if v := ctx.Value(claimsKey); v != nil {
		if c, ok := v.(*auth.Claims); ok {
			return c
		}
	}
	return nil
}
