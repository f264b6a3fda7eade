// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/fleetauth/fleetauth/pkg/authserver/registration"
	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
)

// Revoke handles POST /revoke (RFC 7009). Per the RFC the endpoint
// answers 200 whether or not the presented token existed; only failed
// client authentication is surfaced.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	client, err := h.registry.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, registration.ErrUnauthorized) {
			writeInvalidClient(w, "client authentication failed")
			return
		}
		slog.Error("client authentication failed", "client_id", clientID, "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "token is required")
		return
	}

	// Try both shapes regardless of token_type_hint; the hint is only an
	// optimization and may be wrong (RFC 7009 Section 2.1).
	h.revokeAccessToken(r, client.ID, token)
	h.revokeRefreshToken(r, client.ID, token)

	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

// revokeAccessToken revokes token if it identifies one of our access
// tokens issued to the calling client, either as the full JWT or as a
// bare jti. Errors are swallowed; revocation is best-effort from the
// client's point of view.
func (h *Handler) revokeAccessToken(r *http.Request, clientID, token string) {
	jti := token
	if claims, err := h.tokens.VerifyAccessToken(r.Context(), token); err == nil {
		jti = claims.ID
	}

	rec, err := h.store.GetAccessToken(r.Context(), jti)
	if err != nil {
		return
	}
	if rec.ClientID != clientID {
		slog.Warn("revocation attempt for foreign access token",
			"token_client", rec.ClientID, "calling_client", clientID)
		return
	}
	if err := h.tokens.RevokeAccessToken(r.Context(), jti); err != nil {
		slog.Error("failed to revoke access token", "jti", jti, "error", err)
		return
	}
	slog.Info("revoked access token", "client_id", clientID, "jti", jti)
}

// revokeRefreshToken revokes token if it is a refresh token issued to
// the calling client.
func (h *Handler) revokeRefreshToken(r *http.Request, clientID, token string) {
	rec, err := h.store.GetRefreshToken(r.Context(), token)
	if err != nil {
		return
	}
	if rec.ClientID != clientID {
		slog.Warn("revocation attempt for foreign refresh token",
			"token_client", rec.ClientID, "calling_client", clientID)
		return
	}
	if err := h.tokens.RevokeRefreshToken(r.Context(), token); err != nil {
		slog.Error("failed to revoke refresh token", "error", err)
		return
	}
	slog.Info("revoked refresh token", "client_id", clientID)
}
