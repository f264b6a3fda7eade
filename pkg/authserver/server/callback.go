// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
	"github.com/fleetauth/fleetauth/pkg/authserver/tokens"
)

// Callback handles GET /callback, the return leg from the identity
// provider. The state parameter is consumed atomically, so a replayed
// callback finds nothing and stops at the error page.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	idpState := q.Get("state")
	if idpState == "" {
		writeErrorPage(w, http.StatusBadRequest, errInvalidRequest, "state is required")
		return
	}

	req, err := h.store.TakeAuthorizationRequest(ctx, idpState)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Unknown state means there is no trusted redirect URI to
			// send the error to.
			writeErrorPage(w, http.StatusBadRequest, errInvalidRequest,
				"unknown or expired authorization request")
			return
		}
		slog.Error("failed to load authorization request", "error", err)
		writeErrorPage(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
		return
	}

	if idpErr := q.Get("error"); idpErr != "" {
		slog.Info("identity provider returned error",
			"client_id", req.ClientID, "idp_error", idpErr)
		redirectWithError(w, r, req.RedirectURI, errAccessDenied,
			"authentication was denied", req.State)
		return
	}

	idpCode := q.Get("code")
	if idpCode == "" {
		redirectWithError(w, r, req.RedirectURI, errInvalidRequest,
			"missing authorization code from identity provider", req.State)
		return
	}

	idpToken, err := h.provider.Exchange(ctx, idpCode)
	if err != nil {
		slog.Error("identity provider code exchange failed",
			"client_id", req.ClientID, "error", err)
		redirectWithError(w, r, req.RedirectURI, errServerError,
			"failed to complete authentication", req.State)
		return
	}

	identity, err := h.provider.UserInfo(ctx, idpToken)
	if err != nil {
		slog.Error("identity provider userinfo failed",
			"client_id", req.ClientID, "error", err)
		redirectWithError(w, r, req.RedirectURI, errServerError,
			"failed to resolve user identity", req.State)
		return
	}

	if !h.policy.Allows(identity.Login) {
		slog.Warn("user denied by access policy",
			"client_id", req.ClientID, "login", identity.Login)
		redirectWithError(w, r, req.RedirectURI, errAccessDenied,
			"user is not allowed to access this service", req.State)
		return
	}

	code := tokens.NewAuthorizationCode()
	rec := &storage.AuthorizationCode{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Subject:             identity.Subject,
		Login:               identity.Login,
		Name:                identity.Name,
		Email:               identity.Email,
		IssuedAt:            time.Now().Unix(),
	}
	if err := h.store.PutAuthorizationCode(ctx, code, rec, h.codeTTL); err != nil {
		slog.Error("failed to store authorization code", "error", err)
		redirectWithError(w, r, req.RedirectURI, errServerError,
			"temporary failure, try again", req.State)
		return
	}

	slog.Info("issued authorization code",
		"client_id", req.ClientID, "sub", identity.Subject, "login", identity.Login)

	u, _ := url.Parse(req.RedirectURI)
	qq := u.Query()
	qq.Set("code", code)
	if req.State != "" {
		qq.Set("state", req.State)
	}
	u.RawQuery = qq.Encode()

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, u.String(), http.StatusFound)
}
