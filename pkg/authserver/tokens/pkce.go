// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokens issues and verifies the credentials minted by the
// authorization server: JWT access tokens, opaque refresh tokens,
// authorization codes, and registration access tokens. It also verifies
// PKCE bindings (RFC 7636).
package tokens

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ChallengeMethodS256 is the only supported PKCE challenge method.
// The "plain" method is deliberately not supported.
const ChallengeMethodS256 = "S256"

// PKCE verifier length bounds per RFC 7636 Section 4.1.
const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// ErrPKCEMismatch indicates the code_verifier does not match the
// code_challenge bound to the authorization code.
var ErrPKCEMismatch = errors.New("pkce verification failed")

// ValidateChallenge checks a code_challenge and method as presented at
// the authorization endpoint. An empty method means S256; "plain" and
// anything else are rejected.
func ValidateChallenge(challenge, method string) error {
	if challenge == "" {
		return errors.New("code_challenge is required")
	}
	if len(challenge) < minVerifierLength || len(challenge) > maxVerifierLength {
		return errors.New("code_challenge length out of range")
	}
	if method != "" && method != ChallengeMethodS256 {
		return fmt.Errorf("code_challenge_method must be %s", ChallengeMethodS256)
	}
	return nil
}

// VerifyChallenge checks a code_verifier against the stored
// code_challenge using the S256 transform. The comparison is
// constant-time.
func VerifyChallenge(verifier, challenge, method string) error {
	if method != ChallengeMethodS256 {
		return fmt.Errorf("%w: unsupported method %q", ErrPKCEMismatch, method)
	}
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return fmt.Errorf("%w: verifier length out of range", ErrPKCEMismatch)
	}

	computed := oauth2.S256ChallengeFromVerifier(verifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrPKCEMismatch
	}
	return nil
}

// NewOpaque returns a cryptographically random URL-safe string of n
// random bytes. It panics on crypto/rand failure, matching the behavior
// of oauth2.GenerateVerifier.
func NewOpaque(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("tokens: crypto/rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// NewAuthorizationCode returns a fresh single-use authorization code.
func NewAuthorizationCode() string {
	return NewOpaque(32)
}

// NewRefreshToken returns a fresh opaque refresh token.
func NewRefreshToken() string {
	return NewOpaque(32)
}

// NewState returns a fresh state value for the IdP round trip.
func NewState() string {
	return NewOpaque(32)
}

// NewRegistrationToken returns a fresh registration access token
// (RFC 7592). The prefix makes leaked tokens identifiable in logs and
// scanners, and keeps them visibly distinct from OAuth tokens.
func NewRegistrationToken() string {
	return "reg-" + NewOpaque(32)
}
