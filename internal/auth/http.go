// ABOUTME: HTTP middleware authenticating callers by shared secret or JWT bearer token
// ABOUTME: Adds an AuthContext to the request context on success

package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ndtriplebolt/coreassist-electron/internal/store"
)

// SharedSecretHeader carries the backend shared secret.
const SharedSecretHeader = "X-Auth"

// UserLookup resolves bearer token subjects to users and reports revoked
// token IDs.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	IsTokenRevoked(ctx context.Context, userID, tokenID string) (bool, error)
}

// Authenticator checks requests against a shared secret and, optionally, JWTs.
type Authenticator struct {
	secret   []byte
	verifier TokenVerifier
	users    UserLookup
}

// NewAuthenticator creates an Authenticator. verifier may be nil to disable
// bearer tokens; users may be nil to skip the subject existence check.
func NewAuthenticator(sharedSecret string, verifier TokenVerifier, users UserLookup) *Authenticator {
	return &Authenticator{
		secret:   []byte(sharedSecret),
		verifier: verifier,
		users:    users,
	}
}

// CheckSharedSecret compares candidate to the configured secret in constant time.
func (a *Authenticator) CheckSharedSecret(candidate string) bool {
	if len(a.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), a.secret) == 1
}

// Authenticate inspects a request. The X-Auth header takes precedence over
// the Authorization header. Returns an error message on failure.
func (a *Authenticator) Authenticate(r *http.Request) (*AuthContext, string) {
	if secret := r.Header.Get(SharedSecretHeader); secret != "" {
		if !a.CheckSharedSecret(secret) {
			return nil, "invalid shared secret"
		}
		return &AuthContext{Method: MethodSharedSecret}, ""
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, "missing authentication"
	}
	token, errMsg := extractBearerToken(authHeader)
	if errMsg != "" {
		return nil, errMsg
	}
	if a.verifier == nil {
		return nil, "bearer tokens are not enabled"
	}

	claims, err := a.verifier.Parse(token)
	if errors.Is(err, ErrExpiredToken) {
		return nil, "token expired"
	}
	if err != nil {
		return nil, "invalid token"
	}

	if a.users != nil {
		if _, err := a.users.GetUser(r.Context(), claims.UserID); err != nil {
			return nil, "user not found"
		}
		if claims.TokenID != "" {
			revoked, err := a.users.IsTokenRevoked(r.Context(), claims.UserID, claims.TokenID)
			if err != nil {
				return nil, "token check failed"
			}
			if revoked {
				return nil, "token revoked"
			}
		}
	}
	return &AuthContext{Method: MethodBearer, UserID: claims.UserID, TokenID: claims.TokenID}, ""
}

// RequireAuth accepts either the shared secret or a valid bearer token.
func (a *Authenticator) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, errMsg := a.Authenticate(r)
			if authCtx == nil {
				WriteError(w, http.StatusUnauthorized, errMsg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireService accepts only the shared secret.
func (a *Authenticator) RequireService() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, errMsg := a.Authenticate(r)
			if authCtx == nil {
				WriteError(w, http.StatusUnauthorized, errMsg)
				return
			}
			if !authCtx.IsService() {
				WriteError(w, http.StatusForbidden, "shared secret required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
