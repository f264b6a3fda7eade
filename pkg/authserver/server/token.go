// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/fleetauth/fleetauth/pkg/authserver/registration"
	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
	"github.com/fleetauth/fleetauth/pkg/authserver/tokens"
)

// tokenResponse is the success body of the token endpoint (RFC 6749
// Section 5.1).
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token handles POST /token for the authorization_code and refresh_token
// grants.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	if clientID == "" {
		writeInvalidClient(w, "client authentication is required")
		return
	}

	client, err := h.registry.Authenticate(r.Context(), clientID, clientSecret)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, registration.ErrUnauthorized):
			writeInvalidClient(w, "client authentication failed")
		default:
			slog.Error("client authentication failed", "client_id", clientID, "error", err)
			writeOAuthError(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
		}
		return
	}

	switch r.PostForm.Get("grant_type") {
	case registration.GrantAuthorizationCode:
		h.tokenAuthorizationCode(w, r, client)
	case registration.GrantRefreshToken:
		h.tokenRefresh(w, r, client)
	default:
		writeOAuthError(w, http.StatusBadRequest, errUnsupportedGrantType,
			"grant_type must be authorization_code or refresh_token")
	}
}

// tokenAuthorizationCode redeems an authorization code. The code is
// consumed atomically up front: a redemption that fails any later check
// still burns the code, so a leaked code cannot be retried.
func (h *Handler) tokenAuthorizationCode(w http.ResponseWriter, r *http.Request, client *storage.Client) {
	ctx := r.Context()

	code := r.PostForm.Get("code")
	if code == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "code is required")
		return
	}

	rec, err := h.store.TakeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeOAuthError(w, http.StatusBadRequest, errInvalidGrant,
				"authorization code is invalid, expired, or already used")
			return
		}
		slog.Error("failed to take authorization code", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
		return
	}

	if rec.ClientID != client.ID {
		slog.Warn("authorization code presented by wrong client",
			"code_client", rec.ClientID, "presenting_client", client.ID)
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant,
			"authorization code was not issued to this client")
		return
	}

	if uri := r.PostForm.Get("redirect_uri"); uri != "" && normalizeRedirectURI(uri) != normalizeRedirectURI(rec.RedirectURI) {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant,
			"redirect_uri does not match the authorization request")
		return
	}

	verifier := r.PostForm.Get("code_verifier")
	if verifier == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "code_verifier is required")
		return
	}
	if err := tokens.VerifyChallenge(verifier, rec.CodeChallenge, rec.CodeChallengeMethod); err != nil {
		slog.Warn("pkce verification failed", "client_id", client.ID)
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "pkce verification failed")
		return
	}

	user := tokens.User{Subject: rec.Subject, Login: rec.Login, Name: rec.Name, Email: rec.Email}
	h.issueTokens(w, r, client, user, rec.Scopes)
}

// tokenRefresh rotates a refresh token and mints a fresh access token.
func (h *Handler) tokenRefresh(w http.ResponseWriter, r *http.Request, client *storage.Client) {
	ctx := r.Context()

	if !slices.Contains(client.GrantTypes, registration.GrantRefreshToken) {
		writeOAuthError(w, http.StatusBadRequest, errUnauthorizedClient,
			"client is not authorized for the refresh_token grant")
		return
	}

	refreshToken := r.PostForm.Get("refresh_token")
	if refreshToken == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "refresh_token is required")
		return
	}

	rec, newRefresh, err := h.tokens.RotateRefreshToken(ctx, client.ID, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, tokens.ErrInvalidToken):
			writeOAuthError(w, http.StatusBadRequest, errInvalidGrant,
				"refresh token is invalid or expired")
		default:
			slog.Error("refresh token rotation failed", "error", err)
			writeOAuthError(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
		}
		return
	}

	scopes := rec.Scopes
	if requested := strings.Fields(r.PostForm.Get("scope")); len(requested) > 0 {
		// Scope may be narrowed on refresh, never widened.
		for _, s := range requested {
			if !slices.Contains(rec.Scopes, s) {
				writeOAuthError(w, http.StatusBadRequest, errInvalidScope,
					"requested scope exceeds the original grant")
				return
			}
		}
		scopes = requested
	}

	user := tokens.User{Subject: rec.Subject, Login: rec.Login, Name: rec.Name, Email: rec.Email}

	at, err := h.tokens.MintAccessToken(ctx, client.ID, user, scopes)
	if err != nil {
		slog.Error("failed to mint access token", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
		return
	}

	slog.Info("refreshed tokens", "client_id", client.ID, "sub", rec.Subject)

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  at.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.tokens.AccessTokenTTL().Seconds()),
		RefreshToken: newRefresh,
		Scope:        strings.Join(scopes, " "),
	})
}

// issueTokens mints the access token, and a refresh token when the
// client registered for the grant.
func (h *Handler) issueTokens(w http.ResponseWriter, r *http.Request, client *storage.Client, user tokens.User, scopes []string) {
	ctx := r.Context()

	at, err := h.tokens.MintAccessToken(ctx, client.ID, user, scopes)
	if err != nil {
		slog.Error("failed to mint access token", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
		return
	}

	var refreshToken string
	if slices.Contains(client.GrantTypes, registration.GrantRefreshToken) {
		refreshToken, err = h.tokens.MintRefreshToken(ctx, client.ID, user, scopes)
		if err != nil {
			slog.Error("failed to mint refresh token", "error", err)
			writeOAuthError(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
			return
		}
	}

	slog.Info("issued tokens", "client_id", client.ID, "sub", user.Subject, "jti", at.JTI)

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  at.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.tokens.AccessTokenTTL().Seconds()),
		RefreshToken: refreshToken,
		Scope:        strings.Join(scopes, " "),
	})
}

// clientCredentials extracts client credentials from the Basic
// authorization header or, failing that, the form body (RFC 6749
// Section 2.3.1).
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}
