// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func startFlow(t *testing.T, env *testEnv) (clientRedirect string, idpState string) {
	t.Helper()
	info := env.registerClient(t)
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	idpState = env.authorize(t, info.ClientID, info.RedirectURIs[0], challenge, "xyz")
	return info.RedirectURIs[0], idpState
}

func TestCallbackMissingState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.get(t, "/callback?code=idp-code")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, readBody(t, rec), "state is required")
}

func TestCallbackUnknownState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.get(t, "/callback?state=never-issued&code=idp-code")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, readBody(t, rec), "unknown or expired")
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, idpState := startFlow(t, env)

	first := env.get(t, "/callback?state="+idpState+"&code=idp-code")
	require.Equal(t, http.StatusFound, first.Code)

	// A replayed callback finds nothing and stops at the error page.
	second := env.get(t, "/callback?state="+idpState+"&code=idp-code")
	require.Equal(t, http.StatusBadRequest, second.Code)
	assert.Contains(t, readBody(t, second), "unknown or expired")
}

func TestCallbackIdPDenial(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, idpState := startFlow(t, env)

	rec := env.get(t, "/callback?state="+idpState+"&error=access_denied")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client.example.test", loc.Host)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	assert.Empty(t, loc.Query().Get("code"))
}

func TestCallbackExchangeFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, idpState := startFlow(t, env)
	env.provider.exchangeErr = errors.New("idp down")

	rec := env.get(t, "/callback?state="+idpState+"&code=idp-code")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "server_error", loc.Query().Get("error"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
}

func TestCallbackPolicyDenied(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, idpState := startFlow(t, env)
	env.provider.identity.Login = "stranger"

	rec := env.get(t, "/callback?state="+idpState+"&code=idp-code")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	assert.Empty(t, loc.Query().Get("code"))
}

func TestCallbackIssuesCode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	redirect, idpState := startFlow(t, env)

	rec := env.get(t, "/callback?state="+idpState+"&code=idp-code")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, redirect, loc.Scheme+"://"+loc.Host+loc.Path)
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
}
