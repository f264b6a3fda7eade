// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Package idp integrates external identity providers. The authorization
// server never handles user credentials itself: authentication is
// delegated to the provider and only the resolved identity flows back.
package idp

import (
	"context"
	"errors"
)

// ErrProvider indicates the identity provider rejected a request or
// could not be reached. Handlers map this to server_error.
var ErrProvider = errors.New("identity provider error")

// Identity is the resolved user identity returned by a provider after a
// successful authorization round trip.
type Identity struct {
	// Subject is the provider's stable user identifier. For GitHub this
	// is the numeric user ID rendered as a decimal string.
	Subject string

	// Login is the provider username, used for access-policy checks.
	Login string

	// Name is the user's display name, if public.
	Name string

	// Email is the user's email, if public.
	Email string
}

// Provider is an external identity provider used to authenticate users.
type Provider interface {
	// AuthorizationURL builds the provider's authorization URL for the
	// given state. The state is our own correlation value, not the
	// client's.
	AuthorizationURL(state string) string

	// Exchange redeems the provider's authorization code for a provider
	// access token.
	Exchange(ctx context.Context, code string) (string, error)

	// UserInfo resolves the identity behind a provider access token.
	UserInfo(ctx context.Context, accessToken string) (*Identity, error)
}
