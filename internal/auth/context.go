// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Method identifies how a caller authenticated.
type Method string

const (
	// MethodSharedSecret is a trusted backend presenting the X-Auth secret.
	MethodSharedSecret Method = "shared_secret"
	// MethodBearer is an end user presenting a JWT.
	MethodBearer Method = "bearer"
)

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	Method Method
	// UserID is the token subject for bearer callers and empty for
	// shared-secret callers.
	UserID string
	// TokenID is the bearer token's "jti", if it carries one.
	TokenID string
}

// IsService reports whether the caller authenticated with the shared secret.
// Service callers may act on behalf of any user.
func (a *AuthContext) IsService() bool {
	return a != nil && a.Method == MethodSharedSecret
}

// CanActFor reports whether the caller may read or modify userID's data.
func (a *AuthContext) CanActFor(userID string) bool {
	if a == nil {
		return false
	}
	return a.IsService() || (userID != "" && a.UserID == userID)
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
