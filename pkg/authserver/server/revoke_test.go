// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/fleetauth/fleetauth/pkg/authserver/registration"
)

// issueTokenPair runs the full flow and returns the registered client
// with its access and refresh tokens.
func issueTokenPair(t *testing.T, env *testEnv) (*registration.ClientInformation, string, string) {
	t.Helper()
	info := env.registerClient(t)
	verifier := oauth2.GenerateVerifier()
	code := env.obtainCode(t, info, verifier)
	body := decodeToken(t, env.postForm(t, "/token", codeGrantForm(code, verifier),
		info.ClientID, info.ClientSecret))
	return info, body["access_token"].(string), body["refresh_token"].(string)
}

func TestRevokeRequiresClientAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.postForm(t, "/revoke", url.Values{"token": {"whatever"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="token"`, rec.Header().Get("WWW-Authenticate"))
}

func TestRevokeAccessToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	info, access, _ := issueTokenPair(t, env)

	rec := env.postForm(t, "/revoke", url.Values{"token": {access}},
		info.ClientID, info.ClientSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	// The token dies immediately even though the JWT has not expired.
	verify := verifyWith(t, env, "Bearer "+access)
	require.Equal(t, http.StatusUnauthorized, verify.Code)
}

func TestRevokeAccessTokenByJTI(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	info, access, _ := issueTokenPair(t, env)

	jti := introspect(t, env, info.ClientID, info.ClientSecret, access)["jti"].(string)
	require.NotEmpty(t, jti)

	// RFC 7009 token may be the bare jti instead of the full JWT.
	rec := env.postForm(t, "/revoke", url.Values{"token": {jti}},
		info.ClientID, info.ClientSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	verify := verifyWith(t, env, "Bearer "+access)
	require.Equal(t, http.StatusUnauthorized, verify.Code)
}

func TestRevokeRefreshToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	info, _, refresh := issueTokenPair(t, env)

	rec := env.postForm(t, "/revoke", url.Values{"token": {refresh}},
		info.ClientID, info.ClientSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}}
	replay := env.postForm(t, "/token", form, info.ClientID, info.ClientSecret)
	require.Equal(t, http.StatusBadRequest, replay.Code)
}

func TestRevokeUnknownTokenStillSucceeds(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	info := env.registerClient(t)

	rec := env.postForm(t, "/revoke", url.Values{"token": {"never-issued"}},
		info.ClientID, info.ClientSecret)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRevokeForeignTokenIsIgnored(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, access, _ := issueTokenPair(t, env)
	other := env.registerClient(t, "https://other.example.test/cb")

	rec := env.postForm(t, "/revoke", url.Values{"token": {access}},
		other.ClientID, other.ClientSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	// The owner's token survives a foreign revocation attempt.
	verify := verifyWith(t, env, "Bearer "+access)
	require.Equal(t, http.StatusOK, verify.Code)
}

func TestRevokeMissingToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	info := env.registerClient(t)

	rec := env.postForm(t, "/revoke", url.Values{}, info.ClientID, info.ClientSecret)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
