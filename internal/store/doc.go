// Package store provides persistence for users, sessions, and connector credentials.
//
// # Architecture
//
// Two interfaces split the surface:
//
//   - IdentityStore: users and time-limited sessions
//   - CredentialStore: opaque auth bundles keyed by (user, connector)
//
// Store combines both. Backends:
//
//   - MemoryStore: process-local maps, the development default
//   - SQLiteStore: modernc.org/sqlite with WAL mode
//   - RedisCredentialStore: credentials only, for sharing across gateways
//
// When credentials live in Redis the gateway pairs it with a MemoryStore or
// SQLiteStore for identities. CollectStats reads counts from both halves.
//
// # Sessions
//
// Sessions default to a 24 hour lifetime. Expired sessions are invisible to
// GetSession immediately and are deleted by CleanupExpiredSessions, which the
// gateway runs on a schedule and on every health check.
//
// # Error Handling
//
//   - ErrNotFound: entity does not exist (or session expired)
//   - ErrAlreadyExists: user ID already taken
package store
