// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists users, sessions, and connector credentials with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			email        TEXT,
			display_name TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

		CREATE TABLE IF NOT EXISTS connector_credentials (
			user_id    TEXT NOT NULL,
			connector  TEXT NOT NULL,
			data_json  TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_id, connector)
		);

		CREATE TABLE IF NOT EXISTS revoked_tokens (
			user_id    TEXT NOT NULL,
			token_id   TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			PRIMARY KEY (user_id, token_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "connector_credentials",
			column: "updated_at",
			apply:  `ALTER TABLE connector_credentials ADD COLUMN updated_at TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateUser inserts a user, assigning an ID if none is set
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, created_at) VALUES (?, ?, ?, ?)`,
		user.ID,
		nullString(user.Email),
		nullString(user.DisplayName),
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("user %q: %w", user.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "user_id", user.ID)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var email, displayName sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &email, &displayName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.Email = email.String
	u.DisplayName = displayName.String
	u.CreatedAt = s.parseTime("user created_at", u.ID, createdAt)
	return &u, nil
}

// CountUsers returns the number of users
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM users`)
}

// CreateSession starts a session for an existing user
func (s *SQLiteStore) CreateSession(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	// foreign_keys is per connection, so check the user explicitly.
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("user %q: %w", userID, err)
	}

	now := s.now().UTC().Truncate(time.Second)
	sess := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL(ttl)),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.ID,
		sess.UserID,
		sess.CreatedAt.Format(time.RFC3339),
		sess.ExpiresAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, fmt.Errorf("user %q: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return sess, nil
}

// GetSession returns a live session, or ErrNotFound if unknown or expired
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var createdAt, expiresAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	sess.CreatedAt = s.parseTime("session created_at", sess.ID, createdAt)
	sess.ExpiresAt = s.parseTime("session expires_at", sess.ID, expiresAt)
	if sess.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// DeleteSession removes a session; returns false if it did not exist
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// CountActiveSessions counts sessions that have not expired
func (s *SQLiteStore) CountActiveSessions(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM sessions WHERE expires_at > ?`, s.nowString())
}

// CleanupExpiredSessions removes expired sessions
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.nowString())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Debug("removed expired sessions", "count", n)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= ?`, s.nowString()); err != nil {
		return int(n), fmt.Errorf("deleting expired token revocations: %w", err)
	}
	return int(n), nil
}

// RevokeToken records a denied token ID until expiresAt
func (s *SQLiteStore) RevokeToken(ctx context.Context, userID, tokenID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (user_id, token_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, token_id) DO UPDATE SET expires_at = excluded.expires_at`,
		userID, tokenID, expiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether the token ID was revoked for userID
func (s *SQLiteStore) IsTokenRevoked(ctx context.Context, userID, tokenID string) (bool, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM revoked_tokens WHERE user_id = ? AND token_id = ?`, userID, tokenID)
	if err != nil {
		return false, fmt.Errorf("checking token revocation: %w", err)
	}
	return n > 0, nil
}

// GetCredentials returns the stored bundle, or ErrNotFound
func (s *SQLiteStore) GetCredentials(ctx context.Context, userID, connector string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data_json FROM connector_credentials WHERE user_id = ? AND connector = ?`,
		userID, connector,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	return data, nil
}

// PutCredentials stores or replaces a bundle
func (s *SQLiteStore) PutCredentials(ctx context.Context, userID, connector string, data map[string]any) error {
	if err := validateCredentialKey(userID, connector); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	now := s.nowString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connector_credentials (user_id, connector, data_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, connector) DO UPDATE SET
			data_json = excluded.data_json,
			updated_at = excluded.updated_at
	`, userID, connector, string(raw), now, now)
	if err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}

	s.logger.Debug("stored credentials", "user_id", userID, "connector", connector)
	return nil
}

// DeleteCredentials removes a bundle; returns false if none was stored
func (s *SQLiteStore) DeleteCredentials(ctx context.Context, userID, connector string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM connector_credentials WHERE user_id = ? AND connector = ?`, userID, connector)
	if err != nil {
		return false, fmt.Errorf("deleting credentials: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// ListConnections returns the connectors a user has credentials for, sorted
func (s *SQLiteStore) ListConnections(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT connector FROM connector_credentials WHERE user_id = ? ORDER BY connector`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// CountCredentials returns the number of stored bundles
func (s *SQLiteStore) CountCredentials(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM connector_credentials`)
}

func (s *SQLiteStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) nowString() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *SQLiteStore) parseTime(field, id, value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		s.logger.Warn("failed to parse timestamp", "field", field, "id", id, "error", err)
		return time.Time{}
	}
	return t
}

// isConstraintViolation checks if an error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
