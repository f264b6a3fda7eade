// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"html/template"
	"log/slog"
	"net/http"
)

var successPageTemplate = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization Complete</title></head>
<body>
<h1>Authorization Complete</h1>
<p>You have been signed in. You may close this window.</p>
</body>
</html>
`))

// ErrorPage handles GET /error, the out-of-band landing page for flows
// that cannot redirect back to a client. The error code and description
// arrive as query parameters and are HTML-escaped by the template.
func (h *Handler) ErrorPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	code := q.Get("error")
	if code == "" {
		code = errInvalidRequest
	}
	description := q.Get("error_description")
	if description == "" {
		description = "The authorization request could not be completed."
	}

	writeErrorPage(w, http.StatusBadRequest, code, description)
}

// SuccessPage handles GET /success, shown when an authorization finishes
// without a client redirect to land on.
func (h *Handler) SuccessPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := successPageTemplate.Execute(w, nil); err != nil {
		slog.Debug("failed to render success page", "error", err)
	}
}
