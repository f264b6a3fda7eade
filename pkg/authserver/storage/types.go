// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides storage interfaces and implementations for the
// OAuth authorization server. All persisted state lives behind the Storage
// interface: client registrations, in-flight authorization requests,
// authorization codes, token records, and the per-user token index.
package storage

import (
	"context"
	"errors"
	"time"
)

// Key namespaces. Every key written to the backing store is the namespace
// followed by the entity identifier. TTLs are carried by the store, not by
// the stored value.
const (
	// NamespaceState holds in-flight authorization requests, keyed by the
	// state we send to the identity provider. TTL: minutes.
	NamespaceState = "oauth:state:"

	// NamespaceCode holds authorization codes. TTL: at most minutes.
	NamespaceCode = "oauth:code:"

	// NamespaceToken holds minimal access-token records keyed by jti.
	// TTL: the access-token lifetime.
	NamespaceToken = "oauth:token:"

	// NamespaceRefresh holds refresh-token records keyed by the opaque
	// token value. TTL: the refresh-token lifetime.
	NamespaceRefresh = "oauth:refresh:"

	// NamespaceClient holds client registrations keyed by client_id.
	// TTL: the client lifetime, or none for eternal clients.
	NamespaceClient = "oauth:client:"

	// NamespaceUserTokens holds the set of live jtis per subject. No TTL;
	// entries are pruned as tokens expire or are revoked.
	NamespaceUserTokens = "oauth:user_tokens:"
)

// Sentinel errors returned by Storage implementations.
var (
	// ErrNotFound indicates the requested entity does not exist or has expired.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a create collided with an existing entity.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnavailable indicates the backing store could not be reached.
	// Handlers map this to server_error.
	ErrUnavailable = errors.New("storage unavailable")
)

// Client is a dynamically registered OAuth client (RFC 7591).
type Client struct {
	// ID is the opaque, high-entropy client identifier.
	ID string `json:"client_id"`

	// SecretHash is the SHA-256 hash of the client secret. Empty for
	// public clients (token_endpoint_auth_method "none").
	SecretHash []byte `json:"secret_hash,omitempty"`

	// Name is the human-readable client name.
	Name string `json:"client_name,omitempty"`

	// RedirectURIs are the registered redirect URIs. At least one.
	RedirectURIs []string `json:"redirect_uris"`

	// GrantTypes is a subset of {authorization_code, refresh_token}.
	GrantTypes []string `json:"grant_types"`

	// ResponseTypes is always {code}.
	ResponseTypes []string `json:"response_types"`

	// TokenEndpointAuthMethod is one of none, client_secret_post,
	// client_secret_basic.
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`

	// Scopes are the scopes the client declared at registration.
	Scopes []string `json:"scopes,omitempty"`

	// RegistrationToken authorizes RFC 7592 management of this client.
	// It is bound to exactly this client and is never exchangeable for
	// OAuth tokens.
	RegistrationToken string `json:"registration_access_token"`

	// IssuedAt is when the registration was created (Unix seconds).
	IssuedAt int64 `json:"client_id_issued_at"`

	// ExpiresAt is when the registration expires (Unix seconds).
	// Zero means the registration never expires.
	ExpiresAt int64 `json:"client_secret_expires_at"`
}

// IsPublic reports whether the client authenticates with "none".
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == "none"
}

// Expired reports whether the registration has passed its expiry.
func (c *Client) Expired(now time.Time) bool {
	return c.ExpiresAt != 0 && now.Unix() >= c.ExpiresAt
}

// AuthorizationRequest tracks a client's authorization request while the
// user authenticates with the identity provider. It is stored under the
// state we generate for the IdP round trip and consumed exactly once at
// /callback.
type AuthorizationRequest struct {
	// ClientID is the requesting OAuth client.
	ClientID string `json:"client_id"`

	// RedirectURI is the validated redirect URI chosen for this request.
	RedirectURI string `json:"redirect_uri"`

	// State is the client's original state parameter, echoed back on the
	// final redirect.
	State string `json:"state"`

	// CodeChallenge is the client's PKCE code challenge.
	CodeChallenge string `json:"code_challenge"`

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string `json:"code_challenge_method"`

	// Scopes are the requested OAuth scopes.
	Scopes []string `json:"scopes,omitempty"`

	// IdPState is the random state we sent to the identity provider.
	IdPState string `json:"idp_state"`

	// CreatedAt is when the request was accepted (Unix seconds).
	CreatedAt int64 `json:"created_at"`
}

// AuthorizationCode is the single-use credential issued at the end of
// /callback and redeemed at /token. Redemption consumes it atomically.
type AuthorizationCode struct {
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes,omitempty"`
	CodeChallenge       string   `json:"code_challenge"`
	CodeChallengeMethod string   `json:"code_challenge_method"`

	// Resolved user identity from the IdP.
	Subject string `json:"sub"`
	Login   string `json:"login,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`

	// IssuedAt is when the code was minted (Unix seconds).
	IssuedAt int64 `json:"issued_at"`
}

// AccessTokenRecord is the minimal record kept per live access token,
// keyed by jti. Its absence means the token has been revoked.
type AccessTokenRecord struct {
	ClientID  string `json:"client_id"`
	Subject   string `json:"sub"`
	Scope     string `json:"scope,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

// RefreshTokenRecord is the state behind an opaque refresh token.
type RefreshTokenRecord struct {
	ClientID  string   `json:"client_id"`
	Subject   string   `json:"sub"`
	Login     string   `json:"login,omitempty"`
	Name      string   `json:"name,omitempty"`
	Email     string   `json:"email,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresAt int64    `json:"exp"`
}

// Storage is the persistence layer for the authorization server. All
// methods return ErrUnavailable (possibly wrapped) when the backing store
// cannot be reached, and ErrNotFound when the entity is absent or expired.
//
// TakeAuthorizationRequest, TakeAuthorizationCode, and TakeRefreshToken
// are atomic read-and-delete operations: under concurrent callers
// exactly one receives the value, all others receive ErrNotFound.
type Storage interface {
	// CreateClient stores a new client registration. Returns
	// ErrAlreadyExists if the client ID is taken. A zero clientTTL means
	// the registration never expires.
	CreateClient(ctx context.Context, client *Client, clientTTL time.Duration) error

	// UpdateClient overwrites an existing client registration, preserving
	// its remaining lifetime semantics.
	UpdateClient(ctx context.Context, client *Client, clientTTL time.Duration) error

	// GetClient loads a client registration by its ID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client registration.
	DeleteClient(ctx context.Context, clientID string) error

	// PutAuthorizationRequest stores an in-flight authorization request
	// under the IdP-facing state.
	PutAuthorizationRequest(ctx context.Context, state string, req *AuthorizationRequest, ttl time.Duration) error

	// TakeAuthorizationRequest atomically retrieves and deletes an
	// authorization request.
	TakeAuthorizationRequest(ctx context.Context, state string) (*AuthorizationRequest, error)

	// PutAuthorizationCode stores an authorization code.
	PutAuthorizationCode(ctx context.Context, code string, rec *AuthorizationCode, ttl time.Duration) error

	// TakeAuthorizationCode atomically retrieves and deletes an
	// authorization code. This is the single serialization point that
	// guarantees exactly-once redemption.
	TakeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// PutAccessToken records a live access token under its jti.
	PutAccessToken(ctx context.Context, jti string, rec *AccessTokenRecord, ttl time.Duration) error

	// GetAccessToken loads the record for a jti. ErrNotFound means the
	// token is expired or revoked.
	GetAccessToken(ctx context.Context, jti string) (*AccessTokenRecord, error)

	// DeleteAccessToken revokes an access token by jti.
	DeleteAccessToken(ctx context.Context, jti string) error

	// PutRefreshToken stores a refresh-token record under the opaque
	// token value.
	PutRefreshToken(ctx context.Context, token string, rec *RefreshTokenRecord, ttl time.Duration) error

	// GetRefreshToken loads a refresh-token record.
	GetRefreshToken(ctx context.Context, token string) (*RefreshTokenRecord, error)

	// TakeRefreshToken atomically retrieves and deletes a refresh-token
	// record, so concurrent redemptions of one token cannot both win.
	TakeRefreshToken(ctx context.Context, token string) (*RefreshTokenRecord, error)

	// DeleteRefreshToken removes a refresh-token record.
	DeleteRefreshToken(ctx context.Context, token string) error

	// AddUserToken adds a jti to the subject's set of live tokens.
	AddUserToken(ctx context.Context, subject, jti string) error

	// RemoveUserToken removes a jti from the subject's set.
	RemoveUserToken(ctx context.Context, subject, jti string) error

	// UserTokens returns the subject's set of live jtis. Entries for
	// tokens that have already expired may still appear until pruned.
	UserTokens(ctx context.Context, subject string) ([]string, error)

	// Ping checks backend connectivity (health check).
	Ping(ctx context.Context) error

	// Close releases resources held by the storage.
	Close() error
}
