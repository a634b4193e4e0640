// Package middleware provides HTTP middleware for the privacy request API.
//
// This file implements the AuthMiddleware that validates JWT tokens via
// Keycloak and extracts caller claims into the request context.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/medisync/privacygraph/internal/auth"
)

// contextKey is a type for context keys.
type contextKey string

const (
	// ClaimsKey is the context key for JWT claims.
	ClaimsKey contextKey = "claims"
	// UserIDKey is the context key for user ID.
	UserIDKey contextKey = "user_id"
	// RolesKey is the context key for user roles.
	RolesKey contextKey = "roles"
)

// KeycloakValidator defines the interface for Keycloak token validation.
type KeycloakValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*auth.Claims, error)
}

// AuthMiddleware validates JWT tokens via Keycloak and adds claims to
// context. It returns 401 Unauthorized for invalid or expired tokens.
func AuthMiddleware(validator KeycloakValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for health and ready endpoints
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("missing authorization header",
					slog.String("path", r.URL.Path),
				)
				writeUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				logger.Debug("invalid authorization header format",
					slog.String("path", r.URL.Path),
				)
				writeUnauthorized(w, "invalid authorization header format")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				logger.Debug("empty bearer token",
					slog.String("path", r.URL.Path),
				)
				writeUnauthorized(w, "empty bearer token")
				return
			}

			claims, err := validator.ValidateToken(r.Context(), tokenString)
			if err != nil {
				logger.Warn("token validation failed",
					slog.String("path", r.URL.Path),
					slog.Any("error", err),
				)
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RolesKey, claims.Roles)

			logger.Debug("caller authenticated",
				slog.String("user_id", claims.UserID),
				slog.Any("roles", claims.Roles),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims retrieves claims from the request context.
func GetClaims(ctx context.Context) *auth.Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// GetUserID retrieves the user ID from the request context.
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetRoles retrieves caller roles from the request context.
func GetRoles(ctx context.Context) []string {
	if roles, ok := ctx.Value(RolesKey).([]string); ok {
		return roles
	}
	return nil
}

// HasRole checks if the caller has a specific role.
func HasRole(ctx context.Context, role string) bool {
	for _, r := range GetRoles(ctx) {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin checks if the caller has the admin role.
func IsAdmin(ctx context.Context) bool {
	return HasRole(ctx, "admin")
}

// RequireRole is a middleware that requires a specific role, rejecting
// callers without it with 403. No route in this service mounts it; the
// role check on erasure submissions is made inside RequestsHandler.Submit.
func RequireRole(role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasRole(r.Context(), role) {
				logger.Warn("role required but not present",
					slog.String("required_role", role),
					slog.String("user_id", GetUserID(r.Context())),
				)
				writeForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeUnauthorized writes a 401 Unauthorized response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="privacygraph"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"code":"unauthorized","message":"` + message + `"}}`))
}

// writeForbidden writes a 403 Forbidden response.
func writeForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":{"code":"forbidden","message":"` + message + `"}}`))
}
