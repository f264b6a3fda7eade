// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rsaPEM(t *testing.T, bits int) []byte {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func ecdsaPEM(t *testing.T, curve elliptic.Curve) []byte {
	t.Helper()
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func TestParsePrivateKeyFormats(t *testing.T) {
	t.Parallel()

	t.Run("pkcs8 pem", func(t *testing.T) {
		t.Parallel()
		signer, err := ParsePrivateKey(rsaPEM(t, 2048))
		require.NoError(t, err)
		assert.IsType(t, &rsa.PrivateKey{}, signer)
	})

	t.Run("sec1 pem", func(t *testing.T) {
		t.Parallel()
		signer, err := ParsePrivateKey(ecdsaPEM(t, elliptic.P256()))
		require.NoError(t, err)
		assert.IsType(t, &ecdsa.PrivateKey{}, signer)
	})

	t.Run("base64 der", func(t *testing.T) {
		t.Parallel()
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		require.NoError(t, err)
		encoded := base64.StdEncoding.EncodeToString(der)

		signer, err := ParsePrivateKey([]byte(encoded))
		require.NoError(t, err)
		assert.IsType(t, &rsa.PrivateKey{}, signer)
	})

	t.Run("garbage", func(t *testing.T) {
		t.Parallel()
		_, err := ParsePrivateKey([]byte("not a key"))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		_, err := ParsePrivateKey(nil)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestNewManagerRSA(t *testing.T) {
	t.Parallel()

	km, err := NewManager(Config{PrivateKey: rsaPEM(t, 2048)})
	require.NoError(t, err)

	assert.Equal(t, "RS256", km.Algorithm())
	assert.NotEmpty(t, km.KeyID())
	assert.NotNil(t, km.Signer())
	assert.NotNil(t, km.Public())

	jwks := km.PublicJWKS()
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, km.KeyID(), jwks.Keys[0].KeyID)
	assert.Equal(t, "sig", jwks.Keys[0].Use)
	assert.True(t, jwks.Keys[0].IsPublic())
}

func TestNewManagerECDSA(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		curve   elliptic.Curve
		wantAlg string
	}{
		{name: "P-256", curve: elliptic.P256(), wantAlg: "ES256"},
		{name: "P-384", curve: elliptic.P384(), wantAlg: "ES384"},
		{name: "P-521", curve: elliptic.P521(), wantAlg: "ES512"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			km, err := NewManager(Config{PrivateKey: ecdsaPEM(t, tt.curve)})
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlg, km.Algorithm())
		})
	}
}

func TestNewManagerRejectsSmallRSA(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Config{PrivateKey: rsaPEM(t, 1024)})
	assert.Error(t, err)
}

func TestNewManagerRejectsAlgorithmMismatch(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Config{PrivateKey: rsaPEM(t, 2048), Algorithm: "ES256"})
	assert.Error(t, err)
}

func TestKeyIDDeterministic(t *testing.T) {
	t.Parallel()

	pemBytes := rsaPEM(t, 2048)

	km1, err := NewManager(Config{PrivateKey: pemBytes})
	require.NoError(t, err)
	km2, err := NewManager(Config{PrivateKey: pemBytes})
	require.NoError(t, err)

	// RFC 7638 thumbprints are a pure function of the public key, so
	// replicas sharing a key agree on the kid.
	assert.Equal(t, km1.KeyID(), km2.KeyID())
}

func TestKeyIDOverride(t *testing.T) {
	t.Parallel()

	km, err := NewManager(Config{PrivateKey: rsaPEM(t, 2048), KeyID: "my-kid"})
	require.NoError(t, err)
	assert.Equal(t, "my-kid", km.KeyID())
	assert.Equal(t, "my-kid", km.PublicJWKS().Keys[0].KeyID)
}

func TestNewManagerSymmetric(t *testing.T) {
	t.Parallel()

	secret := []byte("0123456789abcdef0123456789abcdef")

	km, err := NewManager(Config{SymmetricSecret: secret})
	require.NoError(t, err)

	assert.Equal(t, "HS256", km.Algorithm())
	assert.NotEmpty(t, km.KeyID())
	assert.Equal(t, secret, km.SigningKey())
	assert.Equal(t, secret, km.VerificationKey())

	// The shared secret must never surface through the JWKS document.
	assert.Empty(t, km.PublicJWKS().Keys)
	assert.Nil(t, km.Signer())
	assert.Nil(t, km.Public())
}

func TestNewManagerSymmetricRejections(t *testing.T) {
	t.Parallel()

	t.Run("short secret", func(t *testing.T) {
		t.Parallel()
		_, err := NewManager(Config{SymmetricSecret: []byte("too short")})
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		t.Parallel()
		_, err := NewManager(Config{
			SymmetricSecret: []byte("0123456789abcdef0123456789abcdef"),
			Algorithm:       "RS256",
		})
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestNewManagerPrefersAsymmetricKey(t *testing.T) {
	t.Parallel()

	km, err := NewManager(Config{
		PrivateKey:      rsaPEM(t, 2048),
		SymmetricSecret: []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)
	assert.Equal(t, "RS256", km.Algorithm())
}
