// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the HTTP surface of the authorization server:
// the OAuth authorization and token endpoints, dynamic client
// registration and management, discovery documents, and the forward-auth
// verification endpoint consumed by the edge router.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetauth/fleetauth/pkg/authserver/idp"
	"github.com/fleetauth/fleetauth/pkg/authserver/keys"
	"github.com/fleetauth/fleetauth/pkg/authserver/policy"
	"github.com/fleetauth/fleetauth/pkg/authserver/registration"
	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
	"github.com/fleetauth/fleetauth/pkg/authserver/tokens"
)

// Default lifetimes for the browser-facing legs of the flow.
const (
	// DefaultStateTTL bounds the IdP round trip.
	DefaultStateTTL = 10 * time.Minute

	// DefaultCodeTTL bounds authorization code redemption
	// (OAuth 2.1 recommends short single-use codes).
	DefaultCodeTTL = time.Minute
)

// maxRequestBody caps request bodies on the POST endpoints.
const maxRequestBody = 64 * 1024

// Config carries the handler-level settings.
type Config struct {
	// Issuer is the external base URL of the server, without trailing
	// slash.
	Issuer string

	// StateTTL and CodeTTL default to DefaultStateTTL and DefaultCodeTTL.
	StateTTL time.Duration
	CodeTTL  time.Duration

	// ScopesSupported is advertised in the discovery document.
	ScopesSupported []string

	// ProtocolVersion is the MCP protocol revision echoed in the
	// discovery document. Optional.
	ProtocolVersion string
}

// Handler provides the HTTP handlers for all authorization server
// endpoints.
type Handler struct {
	issuer   string
	store    storage.Storage
	tokens   *tokens.Service
	registry *registration.Registry
	keys     *keys.Manager
	provider idp.Provider
	policy   *policy.AccessPolicy

	stateTTL time.Duration
	codeTTL  time.Duration

	scopesSupported []string
	protocolVersion string
}

// NewHandler creates a Handler with the given dependencies.
func NewHandler(
	cfg Config,
	store storage.Storage,
	tokenSvc *tokens.Service,
	registry *registration.Registry,
	km *keys.Manager,
	provider idp.Provider,
	accessPolicy *policy.AccessPolicy,
) *Handler {
	stateTTL := cfg.StateTTL
	if stateTTL == 0 {
		stateTTL = DefaultStateTTL
	}
	codeTTL := cfg.CodeTTL
	if codeTTL == 0 {
		codeTTL = DefaultCodeTTL
	}

	return &Handler{
		issuer:          strings.TrimSuffix(cfg.Issuer, "/"),
		store:           store,
		tokens:          tokenSvc,
		registry:        registry,
		keys:            km,
		provider:        provider,
		policy:          accessPolicy,
		stateTTL:        stateTTL,
		codeTTL:         codeTTL,
		scopesSupported: cfg.ScopesSupported,
		protocolVersion: cfg.ProtocolVersion,
	}
}

// Routes returns a router with all endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.OAuthRoutes(r)
	h.RegistrationRoutes(r)
	h.WellKnownRoutes(r)
	h.PageRoutes(r)
	h.InternalRoutes(r)
	return r
}

// OAuthRoutes registers the OAuth protocol endpoints.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Get("/authorize", h.Authorize)
	r.Get("/callback", h.Callback)
	r.Post("/token", h.Token)
	r.Post("/revoke", h.Revoke)
	r.Post("/introspect", h.Introspect)
}

// RegistrationRoutes registers dynamic client registration (RFC 7591)
// and client management (RFC 7592).
func (h *Handler) RegistrationRoutes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Route("/register/{clientID}", func(r chi.Router) {
		r.Get("/", h.GetRegistration)
		r.Put("/", h.UpdateRegistration)
		r.Delete("/", h.DeleteRegistration)
	})
}

// WellKnownRoutes registers the discovery endpoints (RFC 8414 plus the
// OIDC alias, which some agent stacks probe first).
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.Get("/.well-known/oauth-authorization-server", h.Discovery)
	r.Get("/.well-known/openid-configuration", h.Discovery)
	r.Get("/.well-known/jwks.json", h.JWKS)
	r.Get("/jwks", h.JWKS)
}

// PageRoutes registers the human-facing HTML fallback pages.
func (h *Handler) PageRoutes(r chi.Router) {
	r.Get("/error", h.ErrorPage)
	r.Get("/success", h.SuccessPage)
}

// InternalRoutes registers the endpoints consumed by the edge router and
// the deployment platform rather than OAuth clients.
func (h *Handler) InternalRoutes(r chi.Router) {
	// The edge router mirrors whatever method the original request used.
	r.Handle("/verify", http.HandlerFunc(h.Verify))
	r.Get("/health", h.Health)
}

// Health reports process and storage liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
