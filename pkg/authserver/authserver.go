// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Package authserver assembles the OAuth 2.1 authorization server that
// fronts a fleet of MCP services behind an edge router.
//
// The server supports:
//   - OAuth 2.0 Authorization Code flow with mandatory PKCE (RFC 7636)
//   - Dynamic Client Registration and management (RFC 7591, RFC 7592)
//   - Token revocation and introspection (RFC 7009, RFC 7662)
//   - Authorization server metadata discovery (RFC 8414)
//   - Forward-auth verification for the edge router
//
// User authentication is delegated to GitHub; the server issues its own
// JWT access tokens whose validity is anchored in storage, so revocation
// takes effect immediately.
//
// # Usage
//
//	srv, err := authserver.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer srv.Close()
//	http.ListenAndServe(addr, srv.Handler())
package authserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fleetauth/fleetauth/pkg/authserver/idp"
	"github.com/fleetauth/fleetauth/pkg/authserver/keys"
	"github.com/fleetauth/fleetauth/pkg/authserver/policy"
	"github.com/fleetauth/fleetauth/pkg/authserver/registration"
	"github.com/fleetauth/fleetauth/pkg/authserver/server"
	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
	"github.com/fleetauth/fleetauth/pkg/authserver/tokens"
)

// Server is a fully wired authorization server.
type Server struct {
	handler http.Handler
	store   storage.Storage
}

// New validates the configuration and builds all components.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	issuer := strings.TrimSuffix(cfg.Issuer, "/")

	km, err := keys.NewManager(keys.Config{
		PrivateKey:      cfg.SigningKey,
		SymmetricSecret: cfg.SymmetricSecret,
		Algorithm:       cfg.SigningAlgorithm,
	})
	if err != nil {
		return nil, err
	}

	store, err := buildStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	tokenSvc, err := tokens.NewService(tokens.Config{
		Issuer:          issuer,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	}, km, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry, err := registration.NewRegistry(registration.Config{
		Issuer:    issuer,
		ClientTTL: cfg.ClientTTL,
	}, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	provider, err := idp.NewGitHub(idp.GitHubConfig{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		RedirectURL:  issuer + "/callback",
		AuthURL:      cfg.GitHub.AuthURL,
		TokenURL:     cfg.GitHub.TokenURL,
		APIURL:       cfg.GitHub.APIURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	accessPolicy := policy.Parse(cfg.AllowedUsers)
	if accessPolicy.AllowsAll() {
		slog.Warn("access policy allows every authenticated user")
	} else {
		slog.Info("access policy loaded", "allowed_users", accessPolicy.Size())
	}

	handler := server.NewHandler(server.Config{
		Issuer:          issuer,
		StateTTL:        cfg.StateTTL,
		CodeTTL:         cfg.CodeTTL,
		ScopesSupported: cfg.Scopes,
		ProtocolVersion: cfg.ProtocolVersion,
	}, store, tokenSvc, registry, km, provider, accessPolicy)

	slog.Info("authorization server assembled",
		"issuer", issuer,
		"algorithm", km.Algorithm(),
		"key_id", km.KeyID(),
		"storage", storageType(cfg.Storage))

	return &Server{
		handler: handler.Routes(),
		store:   store,
	}, nil
}

// Handler returns the HTTP handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases the storage backend.
func (s *Server) Close() error {
	return s.store.Close()
}

func buildStorage(ctx context.Context, cfg StorageConfig) (storage.Storage, error) {
	switch storageType(cfg) {
	case StorageRedis:
		return storage.NewRedisStorage(ctx, cfg.Redis)
	default:
		return storage.NewMemoryStorage(), nil
	}
}

func storageType(cfg StorageConfig) StorageType {
	if cfg.Type == "" {
		return StorageMemory
	}
	return cfg.Type
}
