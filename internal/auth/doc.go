// Package auth authenticates HTTP callers of the gateway.
//
// # Authentication Methods
//
//   - Shared secret: trusted backends send the configured auth.shared_secret
//     in the X-Auth header. Comparison is constant time. Shared-secret callers
//     may act on behalf of any user.
//
//   - JWT bearer tokens: end users send "Authorization: Bearer <token>".
//     Tokens are HS256 signed with auth.jwt_secret and carry the user ID in
//     the "sub" claim and a token ID in "jti". The subject must exist in the
//     identity store and the token ID must not be revoked.
//
// # Middleware
//
//	a := NewAuthenticator(secret, verifier, users)
//	r.With(a.RequireAuth()).Post("/tools/call", ...)
//	r.With(a.RequireService()).Post("/api/users", ...)
//
// Handlers read the caller with FromContext and check per-user access with
// AuthContext.CanActFor.
package auth
