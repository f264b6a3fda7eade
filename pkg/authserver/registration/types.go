// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Package registration implements OAuth 2.0 Dynamic Client Registration
// (RFC 7591) and the client management protocol layered on top of it
// (RFC 7592). Registration is open: any caller may register a client,
// which is why registrations expire by default and why every response
// carries a management token bound to that one client.
package registration

import "errors"

// Registration error categories. The server layer maps these to the
// RFC 7591 error codes.
var (
	// ErrInvalidClientMetadata covers any invalid metadata field other
	// than redirect URIs.
	ErrInvalidClientMetadata = errors.New("invalid client metadata")

	// ErrInvalidRedirectURI covers missing or malformed redirect URIs.
	ErrInvalidRedirectURI = errors.New("invalid redirect URI")

	// ErrUnauthorized indicates a missing or wrong registration access
	// token on a management call.
	ErrUnauthorized = errors.New("invalid registration access token")
)

// Token endpoint authentication methods we accept.
const (
	AuthMethodNone        = "none"
	AuthMethodSecretPost  = "client_secret_post"
	AuthMethodSecretBasic = "client_secret_basic"
)

// Grant and response types we accept.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	ResponseTypeCode       = "code"
)

// ClientMetadata is the registration request body (RFC 7591 Section 2).
// Unknown fields are ignored per the RFC.
type ClientMetadata struct {
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	LogoURI                 string   `json:"logo_uri,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	Contacts                []string `json:"contacts,omitempty"`
	TosURI                  string   `json:"tos_uri,omitempty"`
	PolicyURI               string   `json:"policy_uri,omitempty"`
	SoftwareID              string   `json:"software_id,omitempty"`
	SoftwareVersion         string   `json:"software_version,omitempty"`
}

// ClientInformation is the registration response body (RFC 7591
// Section 3.2.1), extended with the RFC 7592 management fields.
type ClientInformation struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at"`

	// RegistrationAccessToken authorizes reads, updates, and deletion of
	// this registration. It is returned only on creation.
	RegistrationAccessToken string `json:"registration_access_token,omitempty"`

	// RegistrationClientURI is the management endpoint for this client.
	RegistrationClientURI string `json:"registration_client_uri,omitempty"`

	ClientMetadata
}

// ErrorResponse is the RFC 7591 registration error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
