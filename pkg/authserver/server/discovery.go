// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fleetauth/fleetauth/pkg/authserver/registration"
	"github.com/fleetauth/fleetauth/pkg/authserver/tokens"
)

// discoveryDocument is the RFC 8414 authorization server metadata.
type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`

	// MCPProtocolVersion is a non-standard extension advertising the MCP
	// protocol revision the fleet speaks.
	MCPProtocolVersion string `json:"mcp_protocol_version,omitempty"`
}

// Discovery handles the RFC 8414 metadata document. The content is
// static per process, so clients may cache it.
func (h *Handler) Discovery(w http.ResponseWriter, _ *http.Request) {
	doc := discoveryDocument{
		Issuer:                h.issuer,
		AuthorizationEndpoint: h.issuer + "/authorize",
		TokenEndpoint:         h.issuer + "/token",
		RegistrationEndpoint:  h.issuer + "/register",
		RevocationEndpoint:    h.issuer + "/revoke",
		IntrospectionEndpoint: h.issuer + "/introspect",
		JWKSURI:               h.issuer + "/.well-known/jwks.json",
		ResponseTypesSupported: []string{
			registration.ResponseTypeCode,
		},
		GrantTypesSupported: []string{
			registration.GrantAuthorizationCode,
			registration.GrantRefreshToken,
		},
		CodeChallengeMethodsSupported: []string{
			tokens.ChallengeMethodS256,
		},
		TokenEndpointAuthMethodsSupported: []string{
			registration.AuthMethodNone,
			registration.AuthMethodSecretBasic,
			registration.AuthMethodSecretPost,
		},
		ScopesSupported:    h.scopesSupported,
		MCPProtocolVersion: h.protocolVersion,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		slog.Debug("failed to encode discovery document", "error", err)
	}
}

// JWKS handles GET /.well-known/jwks.json, serving the public signing
// keys for resource servers that verify tokens locally.
func (h *Handler) JWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := json.NewEncoder(w).Encode(h.keys.PublicJWKS()); err != nil {
		slog.Debug("failed to encode jwks", "error", err)
	}
}
