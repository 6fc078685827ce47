// ABOUTME: Store interfaces and data types for users, sessions, and connector credentials
// ABOUTME: Implemented by MemoryStore, SQLiteStore, and (credentials only) RedisCredentialStore

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating an entity whose ID is taken
var ErrAlreadyExists = errors.New("already exists")

// DefaultSessionTTL is how long a session lives when no TTL is configured
const DefaultSessionTTL = 24 * time.Hour

// User is an end user whose connector credentials the gateway holds
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is a time-limited login for a user
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at the given time
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Stats summarizes store contents for health and debug endpoints
type Stats struct {
	TotalUsers                int `json:"total_users"`
	ActiveSessions            int `json:"active_sessions"`
	TotalConnectorCredentials int `json:"total_connector_credentials"`
}

// IdentityStore holds users and their sessions
type IdentityStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	CountUsers(ctx context.Context) (int, error)

	CreateSession(ctx context.Context, userID string, ttl time.Duration) (*Session, error)
	// GetSession returns ErrNotFound for unknown and expired sessions alike
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
	CountActiveSessions(ctx context.Context) (int, error)
	// CleanupExpiredSessions deletes expired sessions and returns how many were
	// removed. Revocations of tokens that have since expired are dropped too.
	CleanupExpiredSessions(ctx context.Context) (int, error)

	// RevokeToken denies a bearer token ID issued to userID until expiresAt.
	RevokeToken(ctx context.Context, userID, tokenID string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, userID, tokenID string) (bool, error)
}

// CredentialStore holds opaque per-user, per-connector auth bundles.
// The dispatch layer only ever calls GetCredentials.
type CredentialStore interface {
	// GetCredentials returns ErrNotFound when nothing is stored
	GetCredentials(ctx context.Context, userID, connector string) (map[string]any, error)
	PutCredentials(ctx context.Context, userID, connector string, data map[string]any) error
	DeleteCredentials(ctx context.Context, userID, connector string) (bool, error)
	ListConnections(ctx context.Context, userID string) ([]string, error)
	CountCredentials(ctx context.Context) (int, error)
}

// Store is the full persistence surface of a single backend
type Store interface {
	IdentityStore
	CredentialStore
	Close() error
}

// CollectStats gathers counts from an identity store and a (possibly
// separate) credential store.
func CollectStats(ctx context.Context, ids IdentityStore, creds CredentialStore) (Stats, error) {
	var stats Stats
	var err error

	if stats.TotalUsers, err = ids.CountUsers(ctx); err != nil {
		return Stats{}, fmt.Errorf("counting users: %w", err)
	}
	if stats.ActiveSessions, err = ids.CountActiveSessions(ctx); err != nil {
		return Stats{}, fmt.Errorf("counting sessions: %w", err)
	}
	if stats.TotalConnectorCredentials, err = creds.CountCredentials(ctx); err != nil {
		return Stats{}, fmt.Errorf("counting credentials: %w", err)
	}
	return stats, nil
}

func validateCredentialKey(userID, connector string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if connector == "" {
		return errors.New("connector name is required")
	}
	return nil
}

func sessionTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultSessionTTL
	}
	return ttl
}
