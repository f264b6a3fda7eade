// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// MaxRedirectURIs caps the number of redirect URIs on one registration.
const MaxRedirectURIs = 10

var (
	allowedAuthMethods = []string{AuthMethodNone, AuthMethodSecretPost, AuthMethodSecretBasic}
	allowedGrantTypes  = []string{GrantAuthorizationCode, GrantRefreshToken}
)

// ValidateMetadata checks client metadata and fills in RFC 7591 defaults
// in place. It returns an error wrapping ErrInvalidRedirectURI or
// ErrInvalidClientMetadata.
func ValidateMetadata(meta *ClientMetadata) error {
	if len(meta.RedirectURIs) == 0 {
		return fmt.Errorf("%w: redirect_uris is required", ErrInvalidRedirectURI)
	}
	if len(meta.RedirectURIs) > MaxRedirectURIs {
		return fmt.Errorf("%w: at most %d redirect_uris allowed", ErrInvalidRedirectURI, MaxRedirectURIs)
	}
	for _, raw := range meta.RedirectURIs {
		if err := validateRedirectURI(raw); err != nil {
			return err
		}
	}

	if meta.TokenEndpointAuthMethod == "" {
		meta.TokenEndpointAuthMethod = AuthMethodSecretBasic
	}
	if !slices.Contains(allowedAuthMethods, meta.TokenEndpointAuthMethod) {
		return fmt.Errorf("%w: unsupported token_endpoint_auth_method %q",
			ErrInvalidClientMetadata, meta.TokenEndpointAuthMethod)
	}

	if len(meta.GrantTypes) == 0 {
		meta.GrantTypes = []string{GrantAuthorizationCode}
	}
	for _, gt := range meta.GrantTypes {
		if !slices.Contains(allowedGrantTypes, gt) {
			return fmt.Errorf("%w: unsupported grant_type %q", ErrInvalidClientMetadata, gt)
		}
	}

	if len(meta.ResponseTypes) == 0 {
		meta.ResponseTypes = []string{ResponseTypeCode}
	}
	for _, rt := range meta.ResponseTypes {
		if rt != ResponseTypeCode {
			return fmt.Errorf("%w: unsupported response_type %q", ErrInvalidClientMetadata, rt)
		}
	}

	for _, field := range []struct{ name, value string }{
		{"client_uri", meta.ClientURI},
		{"logo_uri", meta.LogoURI},
		{"tos_uri", meta.TosURI},
		{"policy_uri", meta.PolicyURI},
	} {
		if field.value == "" {
			continue
		}
		u, err := url.Parse(field.value)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("%w: %s must be an absolute URI", ErrInvalidClientMetadata, field.name)
		}
	}

	return nil
}

// validateRedirectURI enforces absolute URIs without fragments, and
// https for anything that is not loopback.
func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %q is not a valid URI", ErrInvalidRedirectURI, raw)
	}
	if !u.IsAbs() {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidRedirectURI, raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("%w: %q must not contain a fragment", ErrInvalidRedirectURI, raw)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("%w: http is only allowed for loopback, got %q", ErrInvalidRedirectURI, raw)
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRedirectURI, u.Scheme)
	}
}

func isLoopback(host string) bool {
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasSuffix(host, ".localhost")
}
