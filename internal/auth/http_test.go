// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers shared secret, bearer tokens, user lookup, and the service gate

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtriplebolt/coreassist-electron/internal/store"
)

const testSharedSecret = "backend-shared-secret"

type stubUsers map[string]bool

func (s stubUsers) GetUser(_ context.Context, id string) (*store.User, error) {
	if !s[id] {
		return nil, store.ErrNotFound
	}
	return &store.User{ID: id}, nil
}

func (s stubUsers) IsTokenRevoked(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

// captureAuth records the AuthContext seen by the wrapped handler.
func captureAuth(got **AuthContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *JWTVerifier) {
	t.Helper()
	verifier := newTestVerifier(t)
	return NewAuthenticator(testSharedSecret, verifier, stubUsers{"user-1": true}), verifier
}

func TestRequireAuth(t *testing.T) {
	a, verifier := newTestAuthenticator(t)
	validToken, err := verifier.Generate("user-1", time.Hour)
	require.NoError(t, err)
	ghostToken, err := verifier.Generate("ghost", time.Hour)
	require.NoError(t, err)
	expiredToken, err := verifier.Generate("user-1", -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantMethod Method
		wantUser   string
	}{
		{
			name:       "shared secret",
			headers:    map[string]string{SharedSecretHeader: testSharedSecret},
			wantStatus: http.StatusOK,
			wantMethod: MethodSharedSecret,
		},
		{
			name:       "wrong shared secret",
			headers:    map[string]string{SharedSecretHeader: "nope"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong shared secret is not rescued by a valid token",
			headers:    map[string]string{SharedSecretHeader: "nope", "Authorization": "Bearer " + validToken},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "bearer token",
			headers:    map[string]string{"Authorization": "Bearer " + validToken},
			wantStatus: http.StatusOK,
			wantMethod: MethodBearer,
			wantUser:   "user-1",
		},
		{
			name:       "bearer for unknown user",
			headers:    map[string]string{"Authorization": "Bearer " + ghostToken},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired bearer",
			headers:    map[string]string{"Authorization": "Bearer " + expiredToken},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic auth",
			headers:    map[string]string{"Authorization": "Basic dXNlcjpwYXNz"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no credentials",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *AuthContext
			req := httptest.NewRequest(http.MethodPost, "/tools/call", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			a.RequireAuth()(captureAuth(&got)).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Nil(t, got)
				assert.Contains(t, rec.Body.String(), `"error"`)
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantMethod, got.Method)
			assert.Equal(t, tt.wantUser, got.UserID)
		})
	}
}

func TestRequireAuth_RevokedToken(t *testing.T) {
	ctx := context.Background()
	users := store.NewMemoryStore()
	require.NoError(t, users.CreateUser(ctx, &store.User{ID: "user-1"}))
	verifier := newTestVerifier(t)
	a := NewAuthenticator(testSharedSecret, verifier, users)

	revokedToken, revokedClaims, err := verifier.Issue("user-1", time.Hour)
	require.NoError(t, err)
	keptToken, keptClaims, err := verifier.Issue("user-1", time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, revokedClaims.TokenID, keptClaims.TokenID)

	require.NoError(t, users.RevokeToken(ctx, "user-1", revokedClaims.TokenID, revokedClaims.ExpiresAt))

	call := func(token string) (*httptest.ResponseRecorder, *AuthContext) {
		var got *AuthContext
		req := httptest.NewRequest(http.MethodPost, "/tools/call", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		a.RequireAuth()(captureAuth(&got)).ServeHTTP(rec, req)
		return rec, got
	}

	rec, got := call(revokedToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token revoked")
	assert.Nil(t, got)

	rec, got = call(keptToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, keptClaims.TokenID, got.TokenID)
}

func TestRequireAuth_BearerDisabled(t *testing.T) {
	a := NewAuthenticator(testSharedSecret, nil, nil)
	verifier := newTestVerifier(t)
	token, err := verifier.Generate("user-1", time.Hour)
	require.NoError(t, err)

	var got *AuthContext
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.RequireAuth()(captureAuth(&got)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "not enabled")
}

func TestRequireService(t *testing.T) {
	a, verifier := newTestAuthenticator(t)
	token, err := verifier.Generate("user-1", time.Hour)
	require.NoError(t, err)

	t.Run("shared secret passes", func(t *testing.T) {
		var got *AuthContext
		req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
		req.Header.Set(SharedSecretHeader, testSharedSecret)
		rec := httptest.NewRecorder()
		a.RequireService()(captureAuth(&got)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, got.IsService())
	})

	t.Run("bearer is forbidden", func(t *testing.T) {
		var got *AuthContext
		req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		a.RequireService()(captureAuth(&got)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Nil(t, got)
	})
}

func TestCheckSharedSecret_EmptyConfiguredSecret(t *testing.T) {
	a := NewAuthenticator("", nil, nil)
	assert.False(t, a.CheckSharedSecret(""))
	assert.False(t, a.CheckSharedSecret("anything"))
}

func TestAuthContext(t *testing.T) {
	service := &AuthContext{Method: MethodSharedSecret}
	user := &AuthContext{Method: MethodBearer, UserID: "user-1"}
	var none *AuthContext

	assert.True(t, service.CanActFor("user-1"))
	assert.True(t, user.CanActFor("user-1"))
	assert.False(t, user.CanActFor("user-2"))
	assert.False(t, user.CanActFor(""))
	assert.False(t, none.CanActFor("user-1"))
	assert.False(t, none.IsService())

	ctx := WithAuth(context.Background(), user)
	assert.Same(t, user, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
