// Package auth provides service-token authentication for the API.
//
// Callers authenticate with long-lived bearer tokens minted offline from
// the server's signing secret. A token carries a name identifying the
// client and the scopes it is allowed to use.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token scopes.
const (
	// ScopeIngest allows posting cluster events.
	ScopeIngest = "ingest"
	// ScopeRead allows querying history, signatures, alerts, and stats.
	ScopeRead = "read"
)

// Claims represents the JWT claims for service tokens.
type Claims struct {
	jwt.RegisteredClaims
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// HasScope reports whether the token carries the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenService handles service-token generation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenService creates a new token service. ttl is the default token
// lifetime used when Generate is called without an explicit one; zero
// means tokens must be minted with an explicit TTL.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: secret,
		ttl:    ttl,
		issuer: "emberwatch",
	}
}

// Generate creates a new signed service token for the named client.
func (s *TokenService) Generate(name string, scopes []string, ttl time.Duration) (string, error) {
	if name == "" {
		return "", fmt.Errorf("token name is required")
	}
	if len(scopes) == 0 {
		return "", fmt.Errorf("at least one scope is required")
	}
	for _, scope := range scopes {
		if scope != ScopeIngest && scope != ScopeRead {
			return "", fmt.Errorf("unknown scope %q", scope)
		}
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token TTL is required")
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   name,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:   name,
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate validates a service token and returns the claims.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	// Verify issuer
	if claims.Issuer != s.issuer {
		return nil, fmt.Errorf("invalid issuer")
	}

	return claims, nil
}
