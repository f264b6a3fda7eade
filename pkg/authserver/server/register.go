// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fleetauth/fleetauth/pkg/authserver/registration"
	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
)

// Register handles POST /register, open dynamic client registration
// (RFC 7591).
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	meta, ok := decodeMetadata(w, r)
	if !ok {
		return
	}

	info, err := h.registry.Create(r.Context(), meta)
	if err != nil {
		writeRegistrationError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

// GetRegistration handles GET /register/{clientID} (RFC 7592).
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	info, err := h.registry.Get(r.Context(), clientID, bearerOrEmpty(r))
	if err != nil {
		writeManagementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// UpdateRegistration handles PUT /register/{clientID} (RFC 7592).
func (h *Handler) UpdateRegistration(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	meta, ok := decodeMetadata(w, r)
	if !ok {
		return
	}

	info, err := h.registry.Update(r.Context(), clientID, bearerOrEmpty(r), meta)
	if err != nil {
		writeManagementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// DeleteRegistration handles DELETE /register/{clientID} (RFC 7592).
func (h *Handler) DeleteRegistration(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	if err := h.registry.Delete(r.Context(), clientID, bearerOrEmpty(r)); err != nil {
		writeManagementError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

func decodeMetadata(w http.ResponseWriter, r *http.Request) (*registration.ClientMetadata, bool) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeOAuthError(w, http.StatusBadRequest, errInvalidClientMetadata,
			"request body must be application/json")
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var meta registration.ClientMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidClientMetadata, "malformed JSON body")
		return nil, false
	}
	return &meta, true
}

// writeRegistrationError maps registration failures to the RFC 7591
// error codes.
func writeRegistrationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registration.ErrInvalidRedirectURI):
		writeOAuthError(w, http.StatusBadRequest, errInvalidRedirectURI, err.Error())
	case errors.Is(err, registration.ErrInvalidClientMetadata):
		writeOAuthError(w, http.StatusBadRequest, errInvalidClientMetadata, err.Error())
	default:
		slog.Error("client registration failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
	}
}

// writeManagementError maps RFC 7592 failures: 404 for a client that does
// not exist, 401 for a wrong registration access token.
func writeManagementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeOAuthError(w, http.StatusNotFound, errInvalidClient, "unknown client")
	case errors.Is(err, registration.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeOAuthError(w, http.StatusUnauthorized, errInvalidToken,
			"invalid registration access token")
	case errors.Is(err, registration.ErrInvalidRedirectURI):
		writeOAuthError(w, http.StatusBadRequest, errInvalidRedirectURI, err.Error())
	case errors.Is(err, registration.ErrInvalidClientMetadata):
		writeOAuthError(w, http.StatusBadRequest, errInvalidClientMetadata, err.Error())
	default:
		slog.Error("client management request failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "temporary failure, try again")
	}
}

func bearerOrEmpty(r *http.Request) string {
	token, _ := bearerToken(r)
	return token
}
