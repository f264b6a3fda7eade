// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func introspect(t *testing.T, env *testEnv, clientID, secret, token string) map[string]any {
	t.Helper()
	rec := env.postForm(t, "/introspect", url.Values{"token": {token}}, clientID, secret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestIntrospectRequiresClientAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.postForm(t, "/introspect", url.Values{"token": {"x"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIntrospectAccessToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	info, access, _ := issueTokenPair(t, env)

	body := introspect(t, env, info.ClientID, info.ClientSecret, access)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, info.ClientID, body["client_id"])
	assert.Equal(t, "octocat", body["username"])
	assert.Equal(t, "12345", body["sub"])
	assert.Equal(t, "mcp", body["scope"])
	assert.Equal(t, testIssuer, body["iss"])
	assert.Equal(t, testIssuer, body["aud"])
	assert.NotEmpty(t, body["jti"])
	assert.Greater(t, body["exp"], body["iat"])
}

func TestIntrospectRefreshToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	info, _, refresh := issueTokenPair(t, env)

	body := introspect(t, env, info.ClientID, info.ClientSecret, refresh)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "refresh_token", body["token_type"])
	assert.Equal(t, info.ClientID, body["client_id"])
}

func TestIntrospectInvalidToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	info := env.registerClient(t)

	body := introspect(t, env, info.ClientID, info.ClientSecret, "never-issued")
	assert.Equal(t, map[string]any{"active": false}, body)
}

func TestIntrospectRevokedToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	info, access, _ := issueTokenPair(t, env)

	rec := env.postForm(t, "/revoke", url.Values{"token": {access}},
		info.ClientID, info.ClientSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	body := introspect(t, env, info.ClientID, info.ClientSecret, access)
	assert.Equal(t, map[string]any{"active": false}, body)
}
