// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigningKey(t *testing.T) []byte {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestNewServesDiscovery(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.SigningKey = testSigningKey(t)

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/.well-known/oauth-authorization-server", nil)
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://auth.example.test", doc["issuer"])
	assert.Equal(t, "https://auth.example.test/token", doc["token_endpoint"])
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Issuer = ""

	_, err := New(context.Background(), cfg)
	require.ErrorContains(t, err, "invalid configuration")
}

func TestNewRejectsBadKey(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.SigningKey = []byte("not a key")

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}
