// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func issueAccessToken(t *testing.T, env *testEnv) string {
	t.Helper()
	info := env.registerClient(t)
	verifier := oauth2.GenerateVerifier()
	code := env.obtainCode(t, info, verifier)
	body := decodeToken(t, env.postForm(t, "/token", codeGrantForm(code, verifier),
		info.ClientID, info.ClientSecret))
	return body["access_token"].(string)
}

func verifyWith(t *testing.T, env *testEnv, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/verify", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return env.do(t, req)
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := issueAccessToken(t, env)

	rec := verifyWith(t, env, "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Header().Get(HeaderUserID))
	assert.Equal(t, "octocat", rec.Header().Get(HeaderUserName))
}

func TestVerifySchemeIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := issueAccessToken(t, env)

	rec := verifyWith(t, env, "bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyRejectsMissingToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name          string
		authorization string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := verifyWith(t, env, tt.authorization)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t,
				`Bearer resource_metadata="`+testIssuer+`/.well-known/oauth-authorization-server"`,
				rec.Header().Get("WWW-Authenticate"))
			assert.Empty(t, rec.Header().Get(HeaderUserID))
		})
	}
}

// Registration access tokens are not OAuth access tokens and must never
// pass forward-auth.
func TestVerifyRejectsRegistrationToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	info := env.registerClient(t)

	rec := verifyWith(t, env, "Bearer "+info.RegistrationAccessToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyRejectsRevokedToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := issueAccessToken(t, env)

	claims, err := env.tokens.VerifyAccessToken(t.Context(), token)
	require.NoError(t, err)
	require.NoError(t, env.tokens.RevokeAccessToken(t.Context(), claims.ID))

	rec := verifyWith(t, env, "Bearer "+token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyMirrorsAnyMethod(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := issueAccessToken(t, env)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/verify", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := env.do(t, req)
		require.Equal(t, http.StatusOK, rec.Code, method)
	}
}

// The challenge URL must be parseable by agents bootstrapping the flow.
func TestVerifyChallengePointsAtDiscovery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := verifyWith(t, env, "")
	challenge := rec.Header().Get("WWW-Authenticate")
	require.Contains(t, challenge, "resource_metadata=")

	raw := challenge[len(`Bearer resource_metadata="`) : len(challenge)-1]
	u, err := url.Parse(raw)
	require.NoError(t, err)

	doc := env.get(t, u.Path)
	require.Equal(t, http.StatusOK, doc.Code)
}
