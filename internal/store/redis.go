// ABOUTME: Redis-backed CredentialStore for deployments that share credentials across gateways
// ABOUTME: Bundles are JSON values; a per-user set and a global set index them

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key the credential store writes
const DefaultRedisPrefix = "coreassist:"

// RedisCredentialStore implements CredentialStore on Redis
type RedisCredentialStore struct {
	client *backend.Client
	prefix string
}

// RedisOption configures a RedisCredentialStore
type RedisOption func(*RedisCredentialStore)

// WithRedisPrefix overrides the key prefix
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisCredentialStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisCredentialStore connects to Redis at address
func NewRedisCredentialStore(address, password string, db int, opts ...RedisOption) *RedisCredentialStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisCredentialStoreFromClient(client, opts...)
}

// NewRedisCredentialStoreFromClient wraps an existing client
func NewRedisCredentialStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisCredentialStore {
	s := &RedisCredentialStore{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCredentialStore) credKey(userID, connector string) string {
	return s.prefix + "cred:" + userID + ":" + connector
}

func (s *RedisCredentialStore) userIndexKey(userID string) string {
	return s.prefix + "conns:" + userID
}

func (s *RedisCredentialStore) globalIndexKey() string {
	return s.prefix + "creds"
}

func indexMember(userID, connector string) string {
	return userID + "\x00" + connector
}

// Ping checks connectivity
func (s *RedisCredentialStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetCredentials returns the stored bundle, or ErrNotFound
func (s *RedisCredentialStore) GetCredentials(ctx context.Context, userID, connector string) (map[string]any, error) {
	val, err := s.client.Get(ctx, s.credKey(userID, connector)).Result()
	if errors.Is(err, backend.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials from redis: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	return data, nil
}

// PutCredentials stores or replaces a bundle
func (s *RedisCredentialStore) PutCredentials(ctx context.Context, userID, connector string, data map[string]any) error {
	if err := validateCredentialKey(userID, connector); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, s.credKey(userID, connector), raw, 0)
		pipe.SAdd(ctx, s.userIndexKey(userID), connector)
		pipe.SAdd(ctx, s.globalIndexKey(), indexMember(userID, connector))
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing credentials to redis: %w", err)
	}
	return nil
}

// DeleteCredentials removes a bundle; returns false if none was stored
func (s *RedisCredentialStore) DeleteCredentials(ctx context.Context, userID, connector string) (bool, error) {
	var del *backend.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		del = pipe.Del(ctx, s.credKey(userID, connector))
		pipe.SRem(ctx, s.userIndexKey(userID), connector)
		pipe.SRem(ctx, s.globalIndexKey(), indexMember(userID, connector))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("deleting credentials from redis: %w", err)
	}
	return del.Val() > 0, nil
}

// ListConnections returns the connectors a user has credentials for, sorted
func (s *RedisCredentialStore) ListConnections(ctx context.Context, userID string) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing connections from redis: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// CountCredentials returns the number of stored bundles
func (s *RedisCredentialStore) CountCredentials(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.globalIndexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("counting credentials in redis: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying client
func (s *RedisCredentialStore) Close() error {
	return s.client.Close()
}

// Ensure RedisCredentialStore implements CredentialStore.
var _ CredentialStore = (*RedisCredentialStore)(nil)
