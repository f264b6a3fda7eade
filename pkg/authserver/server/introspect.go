// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fleetauth/fleetauth/pkg/authserver/registration"
	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
)

// introspectionResponse is the RFC 7662 response body. Only Active is
// present for inactive tokens.
type introspectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Jti       string `json:"jti,omitempty"`
}

// Introspect handles POST /introspect (RFC 7662). Callers must
// authenticate as a registered client; any token that cannot be verified
// is reported as inactive rather than as an error.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	if _, err := h.registry.Authenticate(ctx, clientID, clientSecret); err != nil {
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

	// Access token first, then refresh token; the hint is advisory.
	if claims, err := h.tokens.VerifyAccessToken(ctx, token); err == nil {
		writeJSON(w, http.StatusOK, introspectionResponse{
			Active:    true,
			Scope:     claims.Scope,
			ClientID:  claims.ClientID,
			Username:  claims.Login,
			TokenType: "Bearer",
			Exp:       claims.ExpiresAt.Unix(),
			Iat:       claims.IssuedAt.Unix(),
			Sub:       claims.Subject,
			Aud:       h.issuer,
			Iss:       h.issuer,
			Jti:       claims.ID,
		})
		return
	}

	if rec, err := h.store.GetRefreshToken(ctx, token); err == nil {
		if time.Now().Unix() < rec.ExpiresAt {
			writeJSON(w, http.StatusOK, introspectionResponse{
				Active:    true,
				Scope:     strings.Join(rec.Scopes, " "),
				ClientID:  rec.ClientID,
				Username:  rec.Login,
				TokenType: "refresh_token",
				Exp:       rec.ExpiresAt,
				Sub:       rec.Subject,
				Iss:       h.issuer,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, introspectionResponse{Active: false})
}
