// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fleetauth/fleetauth/pkg/authserver/keys"
	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = 30 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Sentinel errors returned by token verification.
var (
	// ErrInvalidToken indicates the token is malformed, has a bad
	// signature, or carries wrong claims.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked indicates a structurally valid token whose record
	// is gone from the store.
	ErrTokenRevoked = errors.New("token revoked")
)

// AccessClaims are the claims carried by our self-describing JWT access
// tokens.
type AccessClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	Login    string `json:"login,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`

	jwt.RegisteredClaims
}

// User carries the identity claims that end up in minted tokens.
type User struct {
	Subject string
	Login   string
	Name    string
	Email   string
}

// AccessToken is a freshly minted access token along with its metadata.
type AccessToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Service mints and verifies tokens. Access tokens are JWTs signed with
// the server's key; they are valid only while their jti record exists in
// storage, so revocation is immediate despite the self-describing format.
type Service struct {
	issuer     string
	keys       *keys.Manager
	store      storage.Storage
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Config configures a token Service.
type Config struct {
	// Issuer is the external base URL of the server, used as both iss
	// and aud.
	Issuer string

	// AccessTokenTTL and RefreshTokenTTL default to 30 minutes and
	// 30 days.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// NewService creates a token Service.
func NewService(cfg Config, km *keys.Manager, store storage.Storage) (*Service, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if km == nil {
		return nil, errors.New("key manager is required")
	}
	if store == nil {
		return nil, errors.New("storage is required")
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL == 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL == 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	return &Service{
		issuer:     cfg.Issuer,
		keys:       km,
		store:      store,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// AccessTokenTTL returns the configured access-token lifetime.
func (s *Service) AccessTokenTTL() time.Duration {
	return s.accessTTL
}

// RefreshTokenTTL returns the configured refresh-token lifetime.
func (s *Service) RefreshTokenTTL() time.Duration {
	return s.refreshTTL
}

// MintAccessToken signs a new access token for the user and client,
// records it under its jti, and indexes it by subject.
func (s *Service) MintAccessToken(ctx context.Context, clientID string, user User, scopes []string) (*AccessToken, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	jti := uuid.NewString()
	scope := strings.Join(scopes, " ")

	claims := AccessClaims{
		ClientID: clientID,
		Scope:    scope,
		Login:    user.Login,
		Name:     user.Name,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.issuer},
			Subject:   user.Subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.GetSigningMethod(s.keys.Algorithm()), claims)
	token.Header["kid"] = s.keys.KeyID()

	signed, err := token.SignedString(s.keys.SigningKey())
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	rec := &storage.AccessTokenRecord{
		ClientID:  clientID,
		Subject:   user.Subject,
		Scope:     scope,
		ExpiresAt: exp.Unix(),
	}
	if err := s.store.PutAccessToken(ctx, jti, rec, s.accessTTL); err != nil {
		return nil, fmt.Errorf("failed to record access token: %w", err)
	}
	if err := s.store.AddUserToken(ctx, user.Subject, jti); err != nil {
		return nil, fmt.Errorf("failed to index access token: %w", err)
	}

	slog.Debug("minted access token", "client_id", clientID, "sub", user.Subject, "jti", jti)

	return &AccessToken{Token: signed, JTI: jti, ExpiresAt: exp}, nil
}

// VerifyAccessToken checks signature, issuer, audience, and expiry, then
// requires the jti record to still exist in storage. A valid JWT whose
// record is gone has been revoked.
func (s *Service) VerifyAccessToken(ctx context.Context, raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.keys.VerificationKey(), nil },
		jwt.WithValidMethods([]string{s.keys.Algorithm()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}

	if _, err := s.store.GetAccessToken(ctx, claims.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: jti %s", ErrTokenRevoked, claims.ID)
		}
		return nil, err
	}

	return claims, nil
}

// MintRefreshToken issues an opaque refresh token for the user and client.
func (s *Service) MintRefreshToken(ctx context.Context, clientID string, user User, scopes []string) (string, error) {
	token := NewRefreshToken()
	rec := &storage.RefreshTokenRecord{
		ClientID:  clientID,
		Subject:   user.Subject,
		Login:     user.Login,
		Name:      user.Name,
		Email:     user.Email,
		Scopes:    scopes,
		ExpiresAt: time.Now().Add(s.refreshTTL).Unix(),
	}
	if err := s.store.PutRefreshToken(ctx, token, rec, s.refreshTTL); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return token, nil
}

// RotateRefreshToken consumes an existing refresh token atomically and
// issues a replacement carrying the same grant. Concurrent redemptions
// of one token cannot both succeed, and a token presented by the wrong
// client is burned, not just rejected. The replacement keeps the
// original expiry horizon; refreshing does not extend the grant
// indefinitely.
func (s *Service) RotateRefreshToken(ctx context.Context, clientID, oldToken string) (*storage.RefreshTokenRecord, string, error) {
	rec, err := s.store.TakeRefreshToken(ctx, oldToken)
	if err != nil {
		return nil, "", err
	}
	if rec.ClientID != clientID {
		// The take already burned the token.
		return nil, "", fmt.Errorf("%w: refresh token not issued to client", ErrInvalidToken)
	}

	remaining := time.Until(time.Unix(rec.ExpiresAt, 0))
	if remaining <= 0 {
		return nil, "", fmt.Errorf("%w: refresh token expired", ErrInvalidToken)
	}

	newToken := NewRefreshToken()
	if err := s.store.PutRefreshToken(ctx, newToken, rec, remaining); err != nil {
		return nil, "", fmt.Errorf("failed to store rotated refresh token: %w", err)
	}
	return rec, newToken, nil
}

// RevokeAccessToken deletes the jti record and its user-index entry.
// Revoking an unknown jti is a no-op.
func (s *Service) RevokeAccessToken(ctx context.Context, jti string) error {
	rec, err := s.store.GetAccessToken(ctx, jti)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.DeleteAccessToken(ctx, jti); err != nil {
		return err
	}
	return s.store.RemoveUserToken(ctx, rec.Subject, jti)
}

// RevokeRefreshToken deletes a refresh-token record. Revoking an unknown
// token is a no-op.
func (s *Service) RevokeRefreshToken(ctx context.Context, token string) error {
	return s.store.DeleteRefreshToken(ctx, token)
}

// RevokeUserTokens revokes every live access token belonging to a
// subject, using the per-user index.
func (s *Service) RevokeUserTokens(ctx context.Context, subject string) error {
	jtis, err := s.store.UserTokens(ctx, subject)
	if err != nil {
		return err
	}
	for _, jti := range jtis {
		if err := s.store.DeleteAccessToken(ctx, jti); err != nil {
			return err
		}
		if err := s.store.RemoveUserToken(ctx, subject, jti); err != nil {
			return err
		}
	}
	slog.Info("revoked all tokens for user", "sub", subject, "count", len(jtis))
	return nil
}
