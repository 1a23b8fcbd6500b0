package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// ContextKeyRole is the context key for storing the caller's role
const ContextKeyRole contextKey = "role"

// Credentials are the keys accepted by the service. AdminKeyHash, when set, replaces AdminKey.
type Credentials struct {
	AdminKey     string
	AdminKeyHash string
	ClientKey    string
}

// DenyFunc writes the response for a rejected request.
type DenyFunc func(w http.ResponseWriter, r *http.Request, status int, message string)

// Authenticator handles authentication for API requests
type Authenticator struct {
	creds Credentials
	deny  DenyFunc
}

// NewAuthenticator creates a new Authenticator. A nil deny falls back to http.Error.
func NewAuthenticator(creds Credentials, deny DenyFunc) *Authenticator {
	if deny == nil {
		deny = func(w http.ResponseWriter, _ *http.Request, status int, message string) {
			http.Error(w, message, status)
		}
	}
	return &Authenticator{creds: creds, deny: deny}
}

// AuthResult contains the result of an authentication attempt
type AuthResult struct {
	Authenticated bool
	Role          Role
	Error         string
}

// Authenticate maps the Authorization header to a role.
func (a *Authenticator) Authenticate(authHeader string) AuthResult {
	token := ExtractBearerToken(authHeader)
	if token == "" {
		return AuthResult{Error: "missing bearer token"}
	}

	if a.isAdmin(token) {
		return AuthResult{Authenticated: true, Role: RoleAdmin}
	}
	if a.creds.ClientKey != "" && VerifyAPIKeyConstantTime(token, a.creds.ClientKey) {
		return AuthResult{Authenticated: true, Role: RoleReadonly}
	}
	return AuthResult{Error: "invalid token"}
}

func (a *Authenticator) isAdmin(token string) bool {
	if a.creds.AdminKeyHash != "" {
		return VerifyAPIKey(token, a.creds.AdminKeyHash)
	}
	return a.creds.AdminKey != "" && VerifyAPIKeyConstantTime(token, a.creds.AdminKey)
}

// RequireRole is a middleware that requires a caller with at least requiredRole.
func (a *Authenticator) RequireRole(requiredRole Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := a.Authenticate(r.Header.Get("Authorization"))
			if !result.Authenticated {
				a.deny(w, r, http.StatusUnauthorized, result.Error)
				return
			}
			if !HasPermission(result.Role, requiredRole) {
				a.deny(w, r, http.StatusForbidden, "insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyRole, result.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRoleFromContext extracts the role from the request context
func GetRoleFromContext(ctx context.Context) (Role, bool) {
	role, ok := ctx.Value(ContextKeyRole).(Role)
	return role, ok
}

// ClientIP returns the caller's address: the first X-Forwarded-For hop, then X-Real-IP,
// then the connection's remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
