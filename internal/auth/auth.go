// Package auth implements the optional JWT bearer-token gate in front
// of the HTTP boundary. It is a standard construction, not part of the
// CRDT core: a node with auth disabled behaves identically once a
// request reaches the handlers.
package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/pbkdf2"
)

type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// Claims is the payload of every token this package issues.
type Claims struct {
	Subject     string       `json:"subject"`
	Permissions []Permission `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates bearer tokens signed with a shared
// HMAC secret.
type TokenManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewTokenManager builds a manager around secretKey, issuing tokens
// valid for one hour.
func NewTokenManager(secretKey string) *TokenManager {
	return &TokenManager{secretKey: []byte(secretKey), tokenDuration: time.Hour}
}

// DeriveSecret turns an operator-supplied passphrase into HMAC key
// material via PBKDF2-SHA256, so a config file can hold a passphrase
// instead of a raw high-entropy secret. salt should be stored alongside
// the derived key's first use and reused on every subsequent startup.
func DeriveSecret(passphrase string, salt []byte) []byte {
	const iterations = 100_000
	const keyLength = 32
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keyLength, sha256.New)
}

// GenerateToken issues a new signed token for subject with the given
// permissions.
func (tm *TokenManager) GenerateToken(subject string, permissions []Permission) (string, error) {
	claims := Claims{
		Subject:     subject,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// ValidateToken verifies and parses a bearer token.
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}
	return claims, nil
}

// HasPermission reports whether claims grant required (admin implies
// every other permission).
func (c *Claims) HasPermission(required Permission) bool {
	for _, p := range c.Permissions {
		if p == required || p == PermissionAdmin {
			return true
		}
	}
	return false
}

// Middleware enforces a valid bearer token on every request it wraps.
type Middleware struct {
	tokenManager *TokenManager
}

func NewMiddleware(tokenManager *TokenManager) *Middleware {
	return &Middleware{tokenManager: tokenManager}
}

type contextKey string

const claimsKey contextKey = "auth-claims"

// Authenticate validates the Authorization header before delegating to
// next; health checks are expected to bypass this middleware entirely
// rather than carry a token.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)
			return
		}
		claims, err := m.tokenManager.ValidateToken(authHeader[7:])
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims retrieves the claims Authenticate attached to ctx, if any.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
