// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// AdminIDKey is the context key for the authenticated admin id.
	AdminIDKey ContextKey = "admin_id"
	// RoleKey is the context key for the token role.
	RoleKey ContextKey = "role"
)

// Claims represents JWT claims for admin tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// VerifyAdmin validates the request's admin bearer token and returns the
// admin id. It is used by the AdminAuth middleware and by handlers whose
// route mixes public and admin actions.
func VerifyAdmin(r *http.Request, jwtSecret string) (string, error) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		return "", errors.New("missing authorization header")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Role != "admin" {
		return "", errors.New("insufficient permissions")
	}
	return claims.Subject, nil
}

// AdminAuth creates JWT authentication middleware for admin endpoints.
// Visitor endpoints stay public and are keyed by session id instead.
func AdminAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adminID, err := VerifyAdmin(r, jwtSecret)
			if err != nil {
				http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), AdminIDKey, adminID)
			ctx = context.WithValue(ctx, RoleKey, "admin")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the bearer token from the Authorization header, or
// from the access_token query parameter for WebSocket upgrades (browsers
// cannot set headers on WebSocket requests).
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// GetAdminID gets the authenticated admin id from context.
func GetAdminID(ctx context.Context) string {
	if v := ctx.Value(AdminIDKey); v != nil {
		return v.(string)
	}
	return ""
}
