// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Tests use the withEachStorage helper which calls t.Parallel() internally,
// making all subtests parallel despite not having explicit t.Parallel() calls.
//
//nolint:paralleltest // parallel execution handled by withEachStorage helper
package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withEachStorage runs fn against every Storage implementation. Both
// backends must honor the same contract, in particular the take-once
// semantics.
func withEachStorage(t *testing.T, fn func(*testing.T, context.Context, Storage)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryStorage()
		defer s.Close()
		fn(t, context.Background(), s)
	})

	t.Run("redis", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		s := NewRedisStorageWithClient(client, "test:")
		defer s.Close()
		fn(t, context.Background(), s)
	})
}

func testStoredClient(id string) *Client {
	return &Client{
		ID:                      id,
		SecretHash:              []byte("secret-hash"),
		Name:                    "Test Client",
		RedirectURIs:            []string{"https://client.example.com/cb"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_post",
		RegistrationToken:       "reg-token",
		IssuedAt:                time.Now().Unix(),
	}
}

func TestClientLifecycle(t *testing.T) {
	withEachStorage(t, func(t *testing.T, ctx context.Context, s Storage) {
		client := testStoredClient("client-1")

		require.NoError(t, s.CreateClient(ctx, client, 0))

		got, err := s.GetClient(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, client.ID, got.ID)
		assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, client.SecretHash, got.SecretHash)
		assert.Equal(t, client.RegistrationToken, got.RegistrationToken)

		// Creating the same ID again must fail.
		err = s.CreateClient(ctx, testStoredClient("client-1"), 0)
		assert.ErrorIs(t, err, ErrAlreadyExists)

		// Updates overwrite in place.
		got.Name = "Renamed"
		require.NoError(t, s.UpdateClient(ctx, got, 0))
		got2, err := s.GetClient(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got2.Name)

		require.NoError(t, s.DeleteClient(ctx, "client-1"))
		_, err = s.GetClient(ctx, "client-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateMissingClient(t *testing.T) {
	withEachStorage(t, func(t *testing.T, ctx context.Context, s Storage) {
		err := s.UpdateClient(ctx, testStoredClient("ghost"), 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClientExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStorage(WithCleanupInterval(time.Hour))
	defer s.Close()

	client := testStoredClient("short-lived")
	client.ExpiresAt = time.Now().Add(time.Millisecond).Unix()
	require.NoError(t, s.CreateClient(ctx, client, time.Millisecond))

	time.Sleep(10 * time.Millisecond)

	_, err := s.GetClient(ctx, "short-lived")
	assert.ErrorIs(t, err, ErrNotFound)

	// An expired slot can be re-registered.
	require.NoError(t, s.CreateClient(ctx, testStoredClient("short-lived"), 0))
}

func TestAuthorizationRequestTakeOnce(t *testing.T) {
	withEachStorage(t, func(t *testing.T, ctx context.Context, s Storage) {
		req := &AuthorizationRequest{
			ClientID:            "client-1",
			RedirectURI:         "https://client.example.com/cb",
			State:               "client-state",
			CodeChallenge:       "challenge",
			CodeChallengeMethod: "S256",
			Scopes:              []string{"mcp:read"},
			IdPState:            "idp-state",
			CreatedAt:           time.Now().Unix(),
		}
		require.NoError(t, s.PutAuthorizationRequest(ctx, "idp-state", req, time.Minute))

		got, err := s.TakeAuthorizationRequest(ctx, "idp-state")
		require.NoError(t, err)
		assert.Equal(t, "client-state", got.State)
		assert.Equal(t, "challenge", got.CodeChallenge)

		// Second take must miss.
		_, err = s.TakeAuthorizationRequest(ctx, "idp-state")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAuthorizationCodeTakeOnce(t *testing.T) {
	withEachStorage(t, func(t *testing.T, ctx context.Context, s Storage) {
		rec := &AuthorizationCode{
			ClientID:            "client-1",
			RedirectURI:         "https://client.example.com/cb",
			CodeChallenge:       "challenge",
			CodeChallengeMethod: "S256",
			Subject:             "12345",
			Login:               "octocat",
			IssuedAt:            time.Now().Unix(),
		}
		require.NoError(t, s.PutAuthorizationCode(ctx, "code-abc", rec, time.Minute))

		got, err := s.TakeAuthorizationCode(ctx, "code-abc")
		require.NoError(t, err)
		assert.Equal(t, "12345", got.Subject)

		_, err = s.TakeAuthorizationCode(ctx, "code-abc")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// Exactly one of N concurrent redemptions may win; the rest must observe
// ErrNotFound.
func TestAuthorizationCodeConcurrentTake(t *testing.T) {
	withEachStorage(t, func(t *testing.T, ctx context.Context, s Storage) {
		rec := &AuthorizationCode{ClientID: "client-1", Subject: "12345"}
		require.NoError(t, s.PutAuthorizationCode(ctx, "contested", rec, time.Minute))

		const workers = 16
		var wg sync.WaitGroup
		results := make([]error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = s.TakeAuthorizationCode(ctx, "contested")
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrNotFound)
			}
		}
		assert.Equal(t, 1, wins, "exactly one redemption must succeed")
	})
}

func TestAccessTokenLifecycle(t *testing.T) {
	withEachStorage(t, func(t *testing.T, ctx context.Context, s Storage) {
		rec := &AccessTokenRecord{
			ClientID:  "client-1",
			Subject:   "12345",
			Scope:     "mcp:read mcp:write",
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		}
		require.NoError(t, s.PutAccessToken(ctx, "jti-1", rec, time.Hour))

		got, err := s.GetAccessToken(ctx, "jti-1")
		require.NoError(t, err)
		assert.Equal(t, "12345", got.Subject)
		assert.Equal(t, "mcp:read mcp:write", got.Scope)

		require.NoError(t, s.DeleteAccessToken(ctx, "jti-1"))
		_, err = s.GetAccessToken(ctx, "jti-1")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting again is not an error; revocation is idempotent.
		assert.NoError(t, s.DeleteAccessToken(ctx, "jti-1"))
	})
}

func TestRefreshTokenLifecycle(t *testing.T) {
	withEachStorage(t, func(t *testing.T, ctx context.Context, s Storage) {
		rec := &RefreshTokenRecord{
			ClientID:  "client-1",
			Subject:   "12345",
			Login:     "octocat",
			Scopes:    []string{"mcp:read"},
			ExpiresAt: time.Now().Add(24 * time.Hour).Unix(),
		}
		require.NoError(t, s.PutRefreshToken(ctx, "rt-1", rec, 24*time.Hour))

		got, err := s.GetRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		assert.Equal(t, "octocat", got.Login)
		assert.Equal(t, []string{"mcp:read"}, got.Scopes)

		require.NoError(t, s.DeleteRefreshToken(ctx, "rt-1"))
		_, err = s.GetRefreshToken(ctx, "rt-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// Exactly one of N concurrent refresh redemptions may win, so rotation
// cannot mint two replacement pairs from one token.
func TestRefreshTokenConcurrentTake(t *testing.T) {
	withEachStorage(t, func(t *testing.T, ctx context.Context, s Storage) {
		rec := &RefreshTokenRecord{
			ClientID:  "client-1",
			Subject:   "12345",
			ExpiresAt: time.Now().Add(24 * time.Hour).Unix(),
		}
		require.NoError(t, s.PutRefreshToken(ctx, "rt-contested", rec, 24*time.Hour))

		const workers = 16
		var wg sync.WaitGroup
		results := make([]error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = s.TakeRefreshToken(ctx, "rt-contested")
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrNotFound)
			}
		}
		assert.Equal(t, 1, wins, "exactly one redemption must succeed")
	})
}

func TestUserTokenIndex(t *testing.T) {
	withEachStorage(t, func(t *testing.T, ctx context.Context, s Storage) {
		jtis, err := s.UserTokens(ctx, "12345")
		require.NoError(t, err)
		assert.Empty(t, jtis)

		require.NoError(t, s.AddUserToken(ctx, "12345", "jti-a"))
		require.NoError(t, s.AddUserToken(ctx, "12345", "jti-b"))
		require.NoError(t, s.AddUserToken(ctx, "12345", "jti-b")) // idempotent

		jtis, err = s.UserTokens(ctx, "12345")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"jti-a", "jti-b"}, jtis)

		require.NoError(t, s.RemoveUserToken(ctx, "12345", "jti-a"))
		jtis, err = s.UserTokens(ctx, "12345")
		require.NoError(t, err)
		assert.Equal(t, []string{"jti-b"}, jtis)
	})
}

func TestPing(t *testing.T) {
	withEachStorage(t, func(t *testing.T, ctx context.Context, s Storage) {
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemoryCleanupExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStorage(WithCleanupInterval(time.Hour))
	defer s.Close()

	require.NoError(t, s.PutAuthorizationCode(ctx, "stale", &AuthorizationCode{}, time.Millisecond))
	require.NoError(t, s.PutAccessToken(ctx, "stale-jti", &AccessTokenRecord{Subject: "12345"}, time.Millisecond))
	require.NoError(t, s.AddUserToken(ctx, "12345", "stale-jti"))
	require.NoError(t, s.PutAccessToken(ctx, "live-jti", &AccessTokenRecord{Subject: "12345"}, time.Hour))
	require.NoError(t, s.AddUserToken(ctx, "12345", "live-jti"))

	time.Sleep(10 * time.Millisecond)
	s.cleanupExpired()

	stats := s.Stats()
	assert.Equal(t, 0, stats.AuthCodes)
	assert.Equal(t, 1, stats.AccessTokens)

	// The sweep also prunes the user index.
	jtis, err := s.UserTokens(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, []string{"live-jti"}, jtis)
}

func TestMemoryExpiredEntriesInvisibleBeforeSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStorage(WithCleanupInterval(time.Hour))
	defer s.Close()

	require.NoError(t, s.PutAccessToken(ctx, "jti-x", &AccessTokenRecord{}, time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	_, err := s.GetAccessToken(ctx, "jti-x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisTTLExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStorageWithClient(client, "test:")
	defer s.Close()

	require.NoError(t, s.PutAuthorizationCode(ctx, "code", &AuthorizationCode{}, time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := s.TakeAuthorizationCode(ctx, "code")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisKeyPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStorageWithClient(client, "fleet:")
	defer s.Close()

	require.NoError(t, s.PutAccessToken(ctx, "jti-1", &AccessTokenRecord{Subject: "7"}, time.Hour))

	assert.True(t, mr.Exists(fmt.Sprintf("fleet:%sjti-1", NamespaceToken)))
}

func TestRedisUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStorageWithClient(client, "test:")
	defer s.Close()

	mr.Close()

	_, err := s.GetClient(ctx, "any")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Error(t, s.Ping(ctx))
}
