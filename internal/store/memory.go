// ABOUTME: In-memory Store implementation for development and tests
// ABOUTME: Data lives for the life of the process; all methods are goroutine-safe

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type credKey struct {
	userID    string
	connector string
}

type revokedKey struct {
	userID  string
	tokenID string
}

// MemoryStore implements Store with maps guarded by a RWMutex
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	sessions map[string]*Session
	creds    map[credKey][]byte // JSON so callers never share nested maps
	revoked  map[revokedKey]time.Time

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
		creds:    make(map[credKey][]byte),
		revoked:  make(map[revokedKey]time.Time),
		now:      time.Now,
	}
}

// CreateUser stores a new user, assigning an ID if none is set
func (m *MemoryStore) CreateUser(_ context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[user.ID]; exists {
		return fmt.Errorf("user %q: %w", user.ID, ErrAlreadyExists)
	}
	u := *user
	m.users[user.ID] = &u
	return nil
}

// GetUser returns a copy of the user, or ErrNotFound
func (m *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

// CountUsers returns the number of users
func (m *MemoryStore) CountUsers(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// CreateSession starts a session for an existing user
func (m *MemoryStore) CreateSession(_ context.Context, userID string, ttl time.Duration) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return nil, fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}

	now := m.now().UTC()
	s := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL(ttl)),
	}
	m.sessions[s.ID] = s

	out := *s
	return &out, nil
}

// GetSession returns a live session, or ErrNotFound if unknown or expired
func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok || s.Expired(m.now()) {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

// DeleteSession removes a session; returns false if it did not exist
func (m *MemoryStore) DeleteSession(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false, nil
	}
	delete(m.sessions, id)
	return true, nil
}

// CountActiveSessions counts sessions that have not expired
func (m *MemoryStore) CountActiveSessions(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	n := 0
	for _, s := range m.sessions {
		if !s.Expired(now) {
			n++
		}
	}
	return n, nil
}

// CleanupExpiredSessions removes expired sessions
func (m *MemoryStore) CleanupExpiredSessions(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	for key, expiresAt := range m.revoked {
		if !now.Before(expiresAt) {
			delete(m.revoked, key)
		}
	}
	return removed, nil
}

// RevokeToken records a denied token ID until expiresAt
func (m *MemoryStore) RevokeToken(_ context.Context, userID, tokenID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[revokedKey{userID, tokenID}] = expiresAt
	return nil
}

// IsTokenRevoked reports whether the token ID was revoked for userID
func (m *MemoryStore) IsTokenRevoked(_ context.Context, userID, tokenID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revoked[revokedKey{userID, tokenID}]
	return ok, nil
}

// GetCredentials returns a fresh copy of the stored bundle, or ErrNotFound
func (m *MemoryStore) GetCredentials(_ context.Context, userID, connector string) (map[string]any, error) {
	m.mu.RLock()
	raw, ok := m.creds[credKey{userID, connector}]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	return data, nil
}

// PutCredentials stores or replaces a bundle
func (m *MemoryStore) PutCredentials(_ context.Context, userID, connector string, data map[string]any) error {
	if err := validateCredentialKey(userID, connector); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[credKey{userID, connector}] = raw
	return nil
}

// DeleteCredentials removes a bundle; returns false if none was stored
func (m *MemoryStore) DeleteCredentials(_ context.Context, userID, connector string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := credKey{userID, connector}
	if _, ok := m.creds[key]; !ok {
		return false, nil
	}
	delete(m.creds, key)
	return true, nil
}

// ListConnections returns the connectors a user has credentials for, sorted
func (m *MemoryStore) ListConnections(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for k := range m.creds {
		if k.userID == userID {
			out = append(out, k.connector)
		}
	}
	sort.Strings(out)
	return out, nil
}

// CountCredentials returns the number of stored bundles
func (m *MemoryStore) CountCredentials(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.creds), nil
}

// Close is a no-op for the in-memory store
func (m *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
