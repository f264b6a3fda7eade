// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"
	"net/http"
	"strings"
)

// Identity headers set on successful verification. The edge router
// copies them onto the proxied request.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

// Verify handles /verify, the forward-auth endpoint called by the edge
// router for every request to a protected MCP service. A valid bearer
// token yields 200 plus identity headers; anything else yields 401 with
// a challenge pointing agents at our discovery metadata so they can
// start the OAuth flow.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.verifyReject(w, "missing bearer token")
		return
	}

	claims, err := h.tokens.VerifyAccessToken(r.Context(), token)
	if err != nil {
		slog.Debug("bearer token rejected", "error", err)
		h.verifyReject(w, "invalid or expired token")
		return
	}

	w.Header().Set(HeaderUserID, claims.Subject)
	w.Header().Set(HeaderUserName, claims.Login)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) verifyReject(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", bearerChallenge(h.issuer))
	writeOAuthError(w, http.StatusUnauthorized, errInvalidToken, description)
}

// bearerToken extracts the token from an Authorization: Bearer header.
// The scheme comparison is case-insensitive per RFC 9110.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}
