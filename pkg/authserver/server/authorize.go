// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/fleetauth/fleetauth/pkg/authserver/registration"
	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
	"github.com/fleetauth/fleetauth/pkg/authserver/tokens"
)

// Authorize handles GET /authorize, the entry point of the authorization
// code flow. It validates the request, parks it in storage, and bounces
// the browser to the identity provider.
//
// Until the client and its redirect URI are verified, errors render the
// self-hosted error page; after that point they redirect to the client
// per RFC 6749 Section 4.1.2.1.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	clientID := q.Get("client_id")
	if clientID == "" {
		writeErrorPage(w, http.StatusBadRequest, errInvalidRequest, "client_id is required")
		return
	}

	client, err := h.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorPage(w, http.StatusBadRequest, errInvalidRequest, "unknown client")
			return
		}
		slog.Error("failed to load client", "client_id", clientID, "error", err)
		writeErrorPage(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
		return
	}
	if client.Expired(time.Now()) {
		writeErrorPage(w, http.StatusBadRequest, errInvalidRequest, "client registration has expired")
		return
	}

	redirectURI := q.Get("redirect_uri")
	switch {
	case redirectURI == "" && len(client.RedirectURIs) == 1:
		redirectURI = client.RedirectURIs[0]
	case redirectURI == "":
		writeErrorPage(w, http.StatusBadRequest, errInvalidRequest, "redirect_uri is required")
		return
	case !redirectURIRegistered(client.RedirectURIs, redirectURI):
		// Never redirect to an unregistered URI.
		writeErrorPage(w, http.StatusBadRequest, errInvalidRequest, "redirect_uri is not registered")
		return
	}

	// The redirect URI is trusted from here on; protocol errors go back
	// to the client.
	state := q.Get("state")

	if rt := q.Get("response_type"); rt != registration.ResponseTypeCode {
		redirectWithError(w, r, redirectURI, errUnsupportedResponseType,
			"only response_type=code is supported", state)
		return
	}

	if !slices.Contains(client.GrantTypes, registration.GrantAuthorizationCode) {
		redirectWithError(w, r, redirectURI, errUnauthorizedClient,
			"client is not authorized for the authorization_code grant", state)
		return
	}

	challenge := q.Get("code_challenge")
	method := q.Get("code_challenge_method")
	if err := tokens.ValidateChallenge(challenge, method); err != nil {
		redirectWithError(w, r, redirectURI, errInvalidRequest, err.Error(), state)
		return
	}
	if method == "" {
		method = tokens.ChallengeMethodS256
	}

	idpState := tokens.NewState()
	req := &storage.AuthorizationRequest{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		State:               state,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		Scopes:              strings.Fields(q.Get("scope")),
		IdPState:            idpState,
		CreatedAt:           time.Now().Unix(),
	}
	if err := h.store.PutAuthorizationRequest(ctx, idpState, req, h.stateTTL); err != nil {
		slog.Error("failed to store authorization request", "error", err)
		redirectWithError(w, r, redirectURI, errServerError, "temporary failure, try again", state)
		return
	}

	slog.Info("authorization request accepted",
		"client_id", clientID, "scopes", req.Scopes)

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, h.provider.AuthorizationURL(idpState), http.StatusFound)
}

// normalizeRedirectURI lowercases the scheme and host and trims one
// trailing slash. Everything else is compared byte for byte.
func normalizeRedirectURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return strings.TrimSuffix(u.String(), "/")
}

func redirectURIRegistered(registered []string, candidate string) bool {
	want := normalizeRedirectURI(candidate)
	for _, uri := range registered {
		if normalizeRedirectURI(uri) == want {
			return true
		}
	}
	return false
}
