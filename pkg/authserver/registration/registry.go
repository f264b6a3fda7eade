// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
	"github.com/fleetauth/fleetauth/pkg/authserver/tokens"
)

// DefaultClientTTL bounds how long an openly registered client lives.
// Zero disables expiry.
const DefaultClientTTL = 90 * 24 * time.Hour

// Registry manages dynamically registered clients on top of Storage.
type Registry struct {
	store     storage.Storage
	issuer    string
	clientTTL time.Duration
}

// Config configures a Registry.
type Config struct {
	// Issuer is the external base URL, used to build
	// registration_client_uri values.
	Issuer string

	// ClientTTL is the registration lifetime. Zero means registrations
	// never expire.
	ClientTTL time.Duration
}

// NewRegistry creates a client registry.
func NewRegistry(cfg Config, store storage.Storage) (*Registry, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &Registry{
		store:     store,
		issuer:    strings.TrimSuffix(cfg.Issuer, "/"),
		clientTTL: cfg.ClientTTL,
	}, nil
}

// HashSecret returns the SHA-256 digest stored in place of the plaintext
// client secret.
func HashSecret(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Create registers a new client. The response is the only time the
// plaintext client_secret and registration_access_token are visible.
func (r *Registry) Create(ctx context.Context, meta *ClientMetadata) (*ClientInformation, error) {
	if err := ValidateMetadata(meta); err != nil {
		return nil, err
	}

	now := time.Now()
	clientID := uuid.NewString()
	regToken := tokens.NewRegistrationToken()

	var secret string
	var secretHash []byte
	if meta.TokenEndpointAuthMethod != AuthMethodNone {
		secret = tokens.NewOpaque(32)
		secretHash = HashSecret(secret)
	}

	var expiresAt int64
	if r.clientTTL > 0 {
		expiresAt = now.Add(r.clientTTL).Unix()
	}

	client := &storage.Client{
		ID:                      clientID,
		SecretHash:              secretHash,
		Name:                    meta.ClientName,
		RedirectURIs:            meta.RedirectURIs,
		GrantTypes:              meta.GrantTypes,
		ResponseTypes:           meta.ResponseTypes,
		TokenEndpointAuthMethod: meta.TokenEndpointAuthMethod,
		Scopes:                  strings.Fields(meta.Scope),
		RegistrationToken:       regToken,
		IssuedAt:                now.Unix(),
		ExpiresAt:               expiresAt,
	}

	if err := r.store.CreateClient(ctx, client, r.clientTTL); err != nil {
		return nil, fmt.Errorf("failed to store client: %w", err)
	}

	slog.Info("registered client",
		"client_id", clientID,
		"client_name", meta.ClientName,
		"auth_method", meta.TokenEndpointAuthMethod,
		"redirect_uris", len(meta.RedirectURIs))

	return &ClientInformation{
		ClientID:                clientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        now.Unix(),
		ClientSecretExpiresAt:   expiresAt,
		RegistrationAccessToken: regToken,
		RegistrationClientURI:   r.managementURI(clientID),
		ClientMetadata:          *meta,
	}, nil
}

// Get returns the registration for clientID after checking the
// management token.
func (r *Registry) Get(ctx context.Context, clientID, regToken string) (*ClientInformation, error) {
	client, err := r.authorize(ctx, clientID, regToken)
	if err != nil {
		return nil, err
	}
	return r.clientInfo(client), nil
}

// Update replaces the metadata of an existing registration. The client
// secret and registration token are preserved, except that switching a
// public client to a confidential auth method mints a fresh secret,
// which is returned once.
func (r *Registry) Update(ctx context.Context, clientID, regToken string, meta *ClientMetadata) (*ClientInformation, error) {
	client, err := r.authorize(ctx, clientID, regToken)
	if err != nil {
		return nil, err
	}
	if err := ValidateMetadata(meta); err != nil {
		return nil, err
	}

	var freshSecret string
	if meta.TokenEndpointAuthMethod == AuthMethodNone {
		client.SecretHash = nil
	} else if len(client.SecretHash) == 0 {
		freshSecret = tokens.NewOpaque(32)
		client.SecretHash = HashSecret(freshSecret)
	}

	client.Name = meta.ClientName
	client.RedirectURIs = meta.RedirectURIs
	client.GrantTypes = meta.GrantTypes
	client.ResponseTypes = meta.ResponseTypes
	client.TokenEndpointAuthMethod = meta.TokenEndpointAuthMethod
	client.Scopes = strings.Fields(meta.Scope)

	ttl := r.clientTTL
	if client.ExpiresAt != 0 {
		// Preserve the original expiry rather than extending on update.
		ttl = time.Until(time.Unix(client.ExpiresAt, 0))
		if ttl <= 0 {
			return nil, fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
		}
	}

	if err := r.store.UpdateClient(ctx, client, ttl); err != nil {
		return nil, fmt.Errorf("failed to update client: %w", err)
	}

	slog.Info("updated client registration", "client_id", clientID)

	info := r.clientInfo(client)
	info.ClientSecret = freshSecret
	return info, nil
}

// Delete removes a registration after checking the management token.
func (r *Registry) Delete(ctx context.Context, clientID, regToken string) error {
	if _, err := r.authorize(ctx, clientID, regToken); err != nil {
		return err
	}
	if err := r.store.DeleteClient(ctx, clientID); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	slog.Info("deleted client registration", "client_id", clientID)
	return nil
}

// Authenticate verifies client credentials at the token endpoint.
// Public clients pass with an empty secret; confidential clients need a
// secret matching the stored digest. The comparison is constant-time.
func (r *Registry) Authenticate(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	client, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
	}

	if client.IsPublic() {
		if secret != "" {
			return nil, fmt.Errorf("%w: public client must not send a secret", ErrUnauthorized)
		}
		return client, nil
	}

	if subtle.ConstantTimeCompare(HashSecret(secret), client.SecretHash) != 1 {
		return nil, fmt.Errorf("%w: wrong client secret", ErrUnauthorized)
	}
	return client, nil
}

// authorize loads the client and checks the RFC 7592 management token in
// constant time. An unknown client surfaces as storage.ErrNotFound, a
// wrong token as ErrUnauthorized.
func (r *Registry) authorize(ctx context.Context, clientID, regToken string) (*storage.Client, error) {
	client, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if regToken == "" ||
		subtle.ConstantTimeCompare([]byte(regToken), []byte(client.RegistrationToken)) != 1 {
		return nil, ErrUnauthorized
	}
	return client, nil
}

func (r *Registry) managementURI(clientID string) string {
	return r.issuer + "/register/" + clientID
}

// clientInfo renders a stored client as a management response. The
// secret digest is never exposed.
func (r *Registry) clientInfo(client *storage.Client) *ClientInformation {
	return &ClientInformation{
		ClientID:              client.ID,
		ClientIDIssuedAt:      client.IssuedAt,
		ClientSecretExpiresAt: client.ExpiresAt,
		RegistrationClientURI: r.managementURI(client.ID),
		ClientMetadata: ClientMetadata{
			RedirectURIs:            client.RedirectURIs,
			TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
			GrantTypes:              client.GrantTypes,
			ResponseTypes:           client.ResponseTypes,
			ClientName:              client.Name,
			Scope:                   strings.Join(client.Scopes, " "),
		},
	}
}
