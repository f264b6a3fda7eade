// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
)

// OAuth error codes (RFC 6749 Section 4.1.2.1 and friends).
const (
	errInvalidRequest          = "invalid_request"
	errInvalidClient           = "invalid_client"
	errInvalidGrant            = "invalid_grant"
	errInvalidToken            = "invalid_token"
	errUnauthorizedClient      = "unauthorized_client"
	errAccessDenied            = "access_denied"
	errInvalidScope            = "invalid_scope"
	errUnsupportedResponseType = "unsupported_response_type"
	errUnsupportedGrantType    = "unsupported_grant_type"
	errServerError             = "server_error"
	errInvalidClientMetadata   = "invalid_client_metadata"
	errInvalidRedirectURI      = "invalid_redirect_uri"
)

// oauthError is the JSON error body used by the token, registration, and
// management endpoints.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// errorPageTemplate renders protocol errors that cannot be redirected to
// the client, because the client or its redirect URI could not be
// trusted. Values are HTML-escaped by html/template.
var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization Error</title></head>
<body>
<h1>Authorization Error</h1>
<p><strong>{{.Code}}</strong></p>
<p>{{.Description}}</p>
</body>
</html>
`))

// writeJSON writes v with the given status. Token and error responses
// must not be cached.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

// writeOAuthError writes a JSON OAuth error response.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, oauthError{Error: code, ErrorDescription: description})
}

// writeInvalidClient writes a 401 with the WWW-Authenticate challenge
// required by RFC 6749 Section 5.2 for failed client authentication.
func writeInvalidClient(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
	writeOAuthError(w, http.StatusUnauthorized, errInvalidClient, description)
}

// writeErrorPage renders the self-hosted error page. Used when the
// client or its redirect URI is unknown: redirecting an error to an
// unverified URI would make the server an open redirector.
func writeErrorPage(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	err := errorPageTemplate.Execute(w, struct {
		Code        string
		Description string
	}{Code: code, Description: description})
	if err != nil {
		slog.Debug("failed to render error page", "error", err)
	}
}

// redirectWithError sends the error back to the client's validated
// redirect URI, echoing the client state (RFC 6749 Section 4.1.2.1).
func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, code, description, state string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		// The URI was validated at registration; this is unreachable
		// short of storage corruption.
		writeErrorPage(w, http.StatusInternalServerError, errServerError, "invalid redirect URI")
		return
	}

	q := u.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	slog.Debug("redirecting error to client", "error", code, "redirect_uri", redirectURI)
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// bearerChallenge formats the WWW-Authenticate header advertised on
// unauthorized resource requests, pointing agents at our authorization
// server metadata.
func bearerChallenge(issuer string) string {
	return fmt.Sprintf(`Bearer resource_metadata=%q`, issuer+"/.well-known/oauth-authorization-server")
}
