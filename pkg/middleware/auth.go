package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKeyType string

const (
	identityIDKey contextKeyType = "identity_id"
	domainKey     contextKeyType = "domain"
	rolesKey      contextKeyType = "roles"
	sessionIDKey  contextKeyType = "session_id"
)

// Claims represents the access-token claims extracted by the auth middleware.
type Claims struct {
	IdentityID string   `json:"identity_id"`
	Email      string   `json:"email"`
	Domain     string   `json:"domain"`
	Roles      []string `json:"roles"`
	SessionID  string   `json:"session_id"`
}

// TokenValidator validates an access token and returns its claims. The
// token package provides the concrete implementation; the indirection keeps
// this middleware free of a JWT dependency.
type TokenValidator func(token string) (*Claims, error)

// Auth validates bearer tokens and injects identity claims into context.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeAuthError(w, "invalid authorization header format")
				return
			}

			claims, err := validate(parts[1])
			if err != nil {
				writeAuthError(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), identityIDKey, claims.IdentityID)
			ctx = context.WithValue(ctx, domainKey, claims.Domain)
			ctx = context.WithValue(ctx, rolesKey, claims.Roles)
			ctx = context.WithValue(ctx, sessionIDKey, claims.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole checks that the authenticated identity holds at least one of
// the given roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, role := range RolesFromContext(r.Context()) {
				if _, ok := roleSet[role]; ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":    "FORBIDDEN",
				"message": "insufficient permissions",
			})
		})
	}
}

// IdentityIDFromContext extracts the identity ID from the request context.
func IdentityIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(identityIDKey).(string); ok {
		return id
	}
	return ""
}

// DomainFromContext extracts the issuer domain from the request context.
func DomainFromContext(ctx context.Context) string {
	if d, ok := ctx.Value(domainKey).(string); ok {
		return d
	}
	return ""
}

// RolesFromContext extracts the identity roles from the request context.
func RolesFromContext(ctx context.Context) []string {
	if roles, ok := ctx.Value(rolesKey).([]string); ok {
		return roles
	}
	return nil
}

// SessionIDFromContext extracts the session (token family) ID from the
// request context.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    "UNAUTHORIZED",
		"message": message,
	})
}
