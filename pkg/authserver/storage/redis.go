// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// takeScript atomically reads and deletes a key. Exactly one concurrent
// caller observes the value; the rest see nil. This backs the take-once
// semantics for authorization requests and codes.
var takeScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
	redis.call("DEL", KEYS[1])
end
return v
`)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username and Password authenticate with the server (optional).
	Username string
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix is prepended to every key, for shared deployments.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStorage implements the Storage interface with a Redis backend.
// All entities are stored as JSON blobs with Redis-managed TTLs, so
// multiple server replicas can share one store and expiry needs no
// sweeper.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStorage connects to Redis and verifies connectivity before
// returning the storage.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return &RedisStorage{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured
// client. This is useful for testing with miniredis.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *RedisStorage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStorage) key(namespace, id string) string {
	return s.keyPrefix + namespace + id
}

// setJSON marshals v and stores it under key. A zero ttl means no expiry.
func (s *RedisStorage) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// getJSON loads key into v. Returns ErrNotFound for missing keys.
func (s *RedisStorage) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// takeJSON atomically reads and deletes key, loading the value into v.
func (s *RedisStorage) takeJSON(ctx context.Context, key string, v any) error {
	res, err := takeScript.Run(ctx, s.client, []string{key}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	data, ok := res.(string)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// -----------------------
// Clients
// -----------------------

// CreateClient stores a new client registration. SET NX guarantees
// client_id uniqueness across replicas.
func (s *RedisStorage) CreateClient(ctx context.Context, client *Client, clientTTL time.Duration) error {
	key := s.key(NamespaceClient, client.ID)

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key, data, clientTTL).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: client %s", ErrAlreadyExists, client.ID)
	}
	return nil
}

// UpdateClient overwrites an existing client registration.
func (s *RedisStorage) UpdateClient(ctx context.Context, client *Client, clientTTL time.Duration) error {
	key := s.key(NamespaceClient, client.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: client %s", ErrNotFound, client.ID)
	}

	return s.setJSON(ctx, key, client, clientTTL)
}

// GetClient loads a client registration by its ID.
func (s *RedisStorage) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var client Client
	if err := s.getJSON(ctx, s.key(NamespaceClient, clientID), &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// DeleteClient removes a client registration.
func (s *RedisStorage) DeleteClient(ctx context.Context, clientID string) error {
	n, err := s.client.Del(ctx, s.key(NamespaceClient, clientID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: client %s", ErrNotFound, clientID)
	}
	return nil
}

// -----------------------
// Authorization requests
// -----------------------

// PutAuthorizationRequest stores an in-flight authorization request under
// the IdP-facing state.
func (s *RedisStorage) PutAuthorizationRequest(ctx context.Context, state string, req *AuthorizationRequest, ttl time.Duration) error {
	return s.setJSON(ctx, s.key(NamespaceState, state), req, ttl)
}

// TakeAuthorizationRequest atomically retrieves and deletes an
// authorization request.
func (s *RedisStorage) TakeAuthorizationRequest(ctx context.Context, state string) (*AuthorizationRequest, error) {
	var req AuthorizationRequest
	if err := s.takeJSON(ctx, s.key(NamespaceState, state), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// -----------------------
// Authorization codes
// -----------------------

// PutAuthorizationCode stores an authorization code.
func (s *RedisStorage) PutAuthorizationCode(ctx context.Context, code string, rec *AuthorizationCode, ttl time.Duration) error {
	return s.setJSON(ctx, s.key(NamespaceCode, code), rec, ttl)
}

// TakeAuthorizationCode atomically retrieves and deletes an authorization
// code. The Lua script serializes concurrent redemptions on the Redis
// side, so exactly one replica wins.
func (s *RedisStorage) TakeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var rec AuthorizationCode
	if err := s.takeJSON(ctx, s.key(NamespaceCode, code), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// -----------------------
// Access tokens
// -----------------------

// PutAccessToken records a live access token under its jti.
func (s *RedisStorage) PutAccessToken(ctx context.Context, jti string, rec *AccessTokenRecord, ttl time.Duration) error {
	return s.setJSON(ctx, s.key(NamespaceToken, jti), rec, ttl)
}

// GetAccessToken loads the record for a jti.
func (s *RedisStorage) GetAccessToken(ctx context.Context, jti string) (*AccessTokenRecord, error) {
	var rec AccessTokenRecord
	if err := s.getJSON(ctx, s.key(NamespaceToken, jti), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteAccessToken revokes an access token by jti.
func (s *RedisStorage) DeleteAccessToken(ctx context.Context, jti string) error {
	if err := s.client.Del(ctx, s.key(NamespaceToken, jti)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// -----------------------
// Refresh tokens
// -----------------------

// PutRefreshToken stores a refresh-token record under the opaque token value.
func (s *RedisStorage) PutRefreshToken(ctx context.Context, token string, rec *RefreshTokenRecord, ttl time.Duration) error {
	return s.setJSON(ctx, s.key(NamespaceRefresh, token), rec, ttl)
}

// GetRefreshToken loads a refresh-token record.
func (s *RedisStorage) GetRefreshToken(ctx context.Context, token string) (*RefreshTokenRecord, error) {
	var rec RefreshTokenRecord
	if err := s.getJSON(ctx, s.key(NamespaceRefresh, token), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// TakeRefreshToken atomically retrieves and deletes a refresh-token
// record. The Lua script serializes concurrent redemptions.
func (s *RedisStorage) TakeRefreshToken(ctx context.Context, token string) (*RefreshTokenRecord, error) {
	var rec RefreshTokenRecord
	if err := s.takeJSON(ctx, s.key(NamespaceRefresh, token), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRefreshToken removes a refresh-token record.
func (s *RedisStorage) DeleteRefreshToken(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(NamespaceRefresh, token)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// -----------------------
// Per-user token index
// -----------------------

// AddUserToken adds a jti to the subject's set of live tokens.
func (s *RedisStorage) AddUserToken(ctx context.Context, subject, jti string) error {
	if err := s.client.SAdd(ctx, s.key(NamespaceUserTokens, subject), jti).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// RemoveUserToken removes a jti from the subject's set.
func (s *RedisStorage) RemoveUserToken(ctx context.Context, subject, jti string) error {
	if err := s.client.SRem(ctx, s.key(NamespaceUserTokens, subject), jti).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// UserTokens returns the subject's set of live jtis.
func (s *RedisStorage) UserTokens(ctx context.Context, subject string) ([]string, error) {
	jtis, err := s.client.SMembers(ctx, s.key(NamespaceUserTokens, subject)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return jtis, nil
}

var _ Storage = (*RedisStorage)(nil)
