// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often the memory backend sweeps expired
// entries.
const DefaultCleanupInterval = 5 * time.Minute

// timedEntry wraps a value with its expiry for TTL tracking. A zero
// expiresAt means the entry never expires.
type timedEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStorage implements the Storage interface with in-memory maps.
// It is safe for concurrent use and suitable for development, testing,
// and single-instance deployments. State does not survive restarts and
// is not shared across replicas; use RedisStorage for that.
type MemoryStorage struct {
	mu sync.RWMutex

	clients       map[string]*timedEntry[*Client]
	authRequests  map[string]*timedEntry[*AuthorizationRequest]
	authCodes     map[string]*timedEntry[*AuthorizationCode]
	accessTokens  map[string]*timedEntry[*AccessTokenRecord]
	refreshTokens map[string]*timedEntry[*RefreshTokenRecord]

	// userTokens maps subject -> set of live jtis. No TTL; entries are
	// removed as their tokens are deleted or revoked.
	userTokens map[string]map[string]struct{}

	cleanupInterval time.Duration

	// stopCleanup signals the cleanup goroutine to stop; cleanupDone is
	// closed once it has fully stopped.
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStorage creates a MemoryStorage with initialized maps and
// starts the background cleanup goroutine.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		clients:         make(map[string]*timedEntry[*Client]),
		authRequests:    make(map[string]*timedEntry[*AuthorizationRequest]),
		authCodes:       make(map[string]*timedEntry[*AuthorizationCode]),
		accessTokens:    make(map[string]*timedEntry[*AccessTokenRecord]),
		refreshTokens:   make(map[string]*timedEntry[*RefreshTokenRecord]),
		userTokens:      make(map[string]map[string]struct{}),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Ping is a no-op for in-memory storage since it is always available.
func (*MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes all expired entries. Expired keys are collected
// under the read lock and deleted under the write lock to keep write lock
// hold time short.
func (s *MemoryStorage) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()

	var expiredClients []string
	for k, v := range s.clients {
		if v.expired(now) {
			expiredClients = append(expiredClients, k)
		}
	}

	var expiredRequests []string
	for k, v := range s.authRequests {
		if v.expired(now) {
			expiredRequests = append(expiredRequests, k)
		}
	}

	var expiredCodes []string
	for k, v := range s.authCodes {
		if v.expired(now) {
			expiredCodes = append(expiredCodes, k)
		}
	}

	// Access-token cleanup also prunes the per-user index.
	type tokenRef struct{ jti, subject string }
	var expiredAccess []tokenRef
	for k, v := range s.accessTokens {
		if v.expired(now) {
			expiredAccess = append(expiredAccess, tokenRef{jti: k, subject: v.value.Subject})
		}
	}

	var expiredRefresh []string
	for k, v := range s.refreshTokens {
		if v.expired(now) {
			expiredRefresh = append(expiredRefresh, k)
		}
	}

	s.mu.RUnlock()

	if len(expiredClients) == 0 &&
		len(expiredRequests) == 0 &&
		len(expiredCodes) == 0 &&
		len(expiredAccess) == 0 &&
		len(expiredRefresh) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredClients {
		delete(s.clients, k)
	}
	for _, k := range expiredRequests {
		delete(s.authRequests, k)
	}
	for _, k := range expiredCodes {
		delete(s.authCodes, k)
	}
	for _, ref := range expiredAccess {
		delete(s.accessTokens, ref.jti)
		s.removeUserTokenLocked(ref.subject, ref.jti)
	}
	for _, k := range expiredRefresh {
		delete(s.refreshTokens, k)
	}

	slog.Debug("storage cleanup removed expired entries",
		"clients", len(expiredClients),
		"auth_requests", len(expiredRequests),
		"codes", len(expiredCodes),
		"access_tokens", len(expiredAccess),
		"refresh_tokens", len(expiredRefresh))
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// cloneClient makes a defensive copy to prevent aliasing issues.
func cloneClient(c *Client) *Client {
	cp := *c
	cp.SecretHash = slices.Clone(c.SecretHash)
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.GrantTypes = slices.Clone(c.GrantTypes)
	cp.ResponseTypes = slices.Clone(c.ResponseTypes)
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

// -----------------------
// Clients
// -----------------------

// CreateClient stores a new client registration. A zero clientTTL means
// the registration never expires.
func (s *MemoryStorage) CreateClient(_ context.Context, client *Client, clientTTL time.Duration) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("%w: client ID cannot be empty", ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if entry, ok := s.clients[client.ID]; ok && !entry.expired(now) {
		return fmt.Errorf("%w: client %s", ErrAlreadyExists, client.ID)
	}

	s.clients[client.ID] = &timedEntry[*Client]{
		value:     cloneClient(client),
		createdAt: now,
		expiresAt: expiry(now, clientTTL),
	}
	return nil
}

// UpdateClient overwrites an existing client registration.
func (s *MemoryStorage) UpdateClient(_ context.Context, client *Client, clientTTL time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.clients[client.ID]
	if !ok || entry.expired(now) {
		return fmt.Errorf("%w: client %s", ErrNotFound, client.ID)
	}

	s.clients[client.ID] = &timedEntry[*Client]{
		value:     cloneClient(client),
		createdAt: entry.createdAt,
		expiresAt: expiry(now, clientTTL),
	}
	return nil
}

// GetClient loads a client registration by its ID.
func (s *MemoryStorage) GetClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.clients[clientID]
	if !ok || entry.expired(time.Now()) {
		slog.Debug("client not found", "client_id", clientID)
		return nil, fmt.Errorf("%w: client %s", ErrNotFound, clientID)
	}
	return cloneClient(entry.value), nil
}

// DeleteClient removes a client registration.
func (s *MemoryStorage) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return fmt.Errorf("%w: client %s", ErrNotFound, clientID)
	}
	delete(s.clients, clientID)
	return nil
}

// -----------------------
// Authorization requests
// -----------------------

// PutAuthorizationRequest stores an in-flight authorization request under
// the IdP-facing state.
func (s *MemoryStorage) PutAuthorizationRequest(_ context.Context, state string, req *AuthorizationRequest, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	reqCopy := *req
	reqCopy.Scopes = slices.Clone(req.Scopes)
	s.authRequests[state] = &timedEntry[*AuthorizationRequest]{
		value:     &reqCopy,
		createdAt: now,
		expiresAt: expiry(now, ttl),
	}
	return nil
}

// TakeAuthorizationRequest atomically retrieves and deletes an
// authorization request. Exactly one concurrent caller wins.
func (s *MemoryStorage) TakeAuthorizationRequest(_ context.Context, state string) (*AuthorizationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.authRequests[state]
	if !ok {
		return nil, fmt.Errorf("%w: authorization request", ErrNotFound)
	}
	delete(s.authRequests, state)

	if entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: authorization request", ErrNotFound)
	}
	return entry.value, nil
}

// -----------------------
// Authorization codes
// -----------------------

// PutAuthorizationCode stores an authorization code.
func (s *MemoryStorage) PutAuthorizationCode(_ context.Context, code string, rec *AuthorizationCode, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	recCopy := *rec
	recCopy.Scopes = slices.Clone(rec.Scopes)
	s.authCodes[code] = &timedEntry[*AuthorizationCode]{
		value:     &recCopy,
		createdAt: now,
		expiresAt: expiry(now, ttl),
	}
	return nil
}

// TakeAuthorizationCode atomically retrieves and deletes an authorization
// code. Under concurrent redemption exactly one caller receives the code.
func (s *MemoryStorage) TakeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.authCodes[code]
	if !ok {
		slog.Debug("authorization code not found")
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	delete(s.authCodes, code)

	if entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	return entry.value, nil
}

// -----------------------
// Access tokens
// -----------------------

// PutAccessToken records a live access token under its jti.
func (s *MemoryStorage) PutAccessToken(_ context.Context, jti string, rec *AccessTokenRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	recCopy := *rec
	s.accessTokens[jti] = &timedEntry[*AccessTokenRecord]{
		value:     &recCopy,
		createdAt: now,
		expiresAt: expiry(now, ttl),
	}
	return nil
}

// GetAccessToken loads the record for a jti. ErrNotFound means the token
// is expired or revoked.
func (s *MemoryStorage) GetAccessToken(_ context.Context, jti string) (*AccessTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.accessTokens[jti]
	if !ok || entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: access token", ErrNotFound)
	}
	recCopy := *entry.value
	return &recCopy, nil
}

// DeleteAccessToken revokes an access token by jti. Deleting an absent
// token is not an error.
func (s *MemoryStorage) DeleteAccessToken(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accessTokens, jti)
	return nil
}

// -----------------------
// Refresh tokens
// -----------------------

// PutRefreshToken stores a refresh-token record under the opaque token value.
func (s *MemoryStorage) PutRefreshToken(_ context.Context, token string, rec *RefreshTokenRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	recCopy := *rec
	recCopy.Scopes = slices.Clone(rec.Scopes)
	s.refreshTokens[token] = &timedEntry[*RefreshTokenRecord]{
		value:     &recCopy,
		createdAt: now,
		expiresAt: expiry(now, ttl),
	}
	return nil
}

// GetRefreshToken loads a refresh-token record.
func (s *MemoryStorage) GetRefreshToken(_ context.Context, token string) (*RefreshTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.refreshTokens[token]
	if !ok || entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	recCopy := *entry.value
	recCopy.Scopes = slices.Clone(entry.value.Scopes)
	return &recCopy, nil
}

// TakeRefreshToken atomically retrieves and deletes a refresh-token
// record. Under concurrent redemption exactly one caller wins.
func (s *MemoryStorage) TakeRefreshToken(_ context.Context, token string) (*RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.refreshTokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	delete(s.refreshTokens, token)

	if entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	return entry.value, nil
}

// DeleteRefreshToken removes a refresh-token record. Deleting an absent
// token is not an error.
func (s *MemoryStorage) DeleteRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, token)
	return nil
}

// -----------------------
// Per-user token index
// -----------------------

// AddUserToken adds a jti to the subject's set of live tokens.
func (s *MemoryStorage) AddUserToken(_ context.Context, subject, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.userTokens[subject]
	if !ok {
		set = make(map[string]struct{})
		s.userTokens[subject] = set
	}
	set[jti] = struct{}{}
	return nil
}

// RemoveUserToken removes a jti from the subject's set.
func (s *MemoryStorage) RemoveUserToken(_ context.Context, subject, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeUserTokenLocked(subject, jti)
	return nil
}

func (s *MemoryStorage) removeUserTokenLocked(subject, jti string) {
	set, ok := s.userTokens[subject]
	if !ok {
		return
	}
	delete(set, jti)
	if len(set) == 0 {
		delete(s.userTokens, subject)
	}
}

// UserTokens returns the subject's set of live jtis.
func (s *MemoryStorage) UserTokens(_ context.Context, subject string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.userTokens[subject]
	jtis := make([]string, 0, len(set))
	for jti := range set {
		jtis = append(jtis, jti)
	}
	return jtis, nil
}

// Stats contains counts of stored entities, useful for tests and
// monitoring.
type Stats struct {
	Clients       int
	AuthRequests  int
	AuthCodes     int
	AccessTokens  int
	RefreshTokens int
	UserIndexes   int
}

// Stats returns current statistics about storage contents.
func (s *MemoryStorage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Clients:       len(s.clients),
		AuthRequests:  len(s.authRequests),
		AuthCodes:     len(s.authCodes),
		AccessTokens:  len(s.accessTokens),
		RefreshTokens: len(s.refreshTokens),
		UserIndexes:   len(s.userTokens),
	}
}

var _ Storage = (*MemoryStorage)(nil)
