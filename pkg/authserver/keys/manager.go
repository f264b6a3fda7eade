// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/go-jose/go-jose/v4"
)

// MinRSAKeyBits is the minimum required size for RSA keys in bits.
// 2048 bits is required per NIST SP 800-57 recommendations.
const MinRSAKeyBits = 2048

// MinSymmetricKeyBytes is the minimum length of an HS256 bootstrap secret,
// matching the SHA-256 output size.
const MinSymmetricKeyBytes = 32

// Manager holds the process-wide signing material. Keys are loaded once at
// startup and are read-only afterwards, so Manager is safe for concurrent use.
type Manager struct {
	signer    crypto.Signer
	symmetric []byte
	keyID     string
	algorithm string
	jwks      *jose.JSONWebKeySet
}

// Config describes the key material for NewManager.
type Config struct {
	// PrivateKey is the raw private key material, PEM or base64-encoded DER.
	PrivateKey []byte

	// SymmetricSecret enables HS256 signing when no asymmetric key is
	// configured. Bootstrap use only; resource servers cannot verify
	// tokens through the JWKS endpoint in this mode.
	SymmetricSecret []byte

	// Algorithm is the requested signing algorithm. If empty, it is derived
	// from the key type (RS256 for RSA, ES256/384/512 for ECDSA).
	Algorithm string

	// KeyID overrides the derived RFC 7638 thumbprint key ID. Usually empty.
	KeyID string
}

// NewManager parses and validates the configured signing key and precomputes
// the public JWKS document. It fails fast on absent or malformed material.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.PrivateKey) == 0 && len(cfg.SymmetricSecret) > 0 {
		return newSymmetricManager(cfg)
	}

	signer, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	if rsaKey, ok := signer.(*rsa.PrivateKey); ok && rsaKey.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("%w: RSA key must be at least %d bits, got %d",
			ErrInvalidKey, MinRSAKeyBits, rsaKey.N.BitLen())
	}

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm, err = DeriveAlgorithm(signer)
		if err != nil {
			return nil, err
		}
	} else if err := ValidateAlgorithmForKey(algorithm, signer); err != nil {
		return nil, err
	}

	keyID := cfg.KeyID
	if keyID == "" {
		keyID, err = DeriveKeyID(signer)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key ID: %w", err)
		}
	}

	jwk := jose.JSONWebKey{
		Key:       signer.Public(),
		KeyID:     keyID,
		Algorithm: algorithm,
		Use:       "sig",
	}

	slog.Debug("signing key loaded", "key_id", keyID, "algorithm", algorithm)

	return &Manager{
		signer:    signer,
		keyID:     keyID,
		algorithm: algorithm,
		jwks:      &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}},
	}, nil
}

// newSymmetricManager builds an HS256 manager from a shared secret. The
// JWKS document stays empty so the secret is never published.
func newSymmetricManager(cfg Config) (*Manager, error) {
	if cfg.Algorithm != "" && cfg.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: a symmetric secret supports only HS256, got %s",
			ErrInvalidKey, cfg.Algorithm)
	}
	if len(cfg.SymmetricSecret) < MinSymmetricKeyBytes {
		return nil, fmt.Errorf("%w: symmetric secret must be at least %d bytes, got %d",
			ErrInvalidKey, MinSymmetricKeyBytes, len(cfg.SymmetricSecret))
	}

	keyID := cfg.KeyID
	if keyID == "" {
		sum := sha256.Sum256(cfg.SymmetricSecret)
		keyID = base64.RawURLEncoding.EncodeToString(sum[:8])
	}

	slog.Warn("signing with a symmetric bootstrap secret; configure an RSA or ECDSA key for production",
		"key_id", keyID)

	return &Manager{
		symmetric: append([]byte(nil), cfg.SymmetricSecret...),
		keyID:     keyID,
		algorithm: "HS256",
		jwks:      &jose.JSONWebKeySet{},
	}, nil
}

// Signer returns the private signing key, or nil in symmetric mode.
func (m *Manager) Signer() crypto.Signer {
	return m.signer
}

// Public returns the verification key corresponding to the signing key, or
// nil in symmetric mode.
func (m *Manager) Public() crypto.PublicKey {
	if m.signer == nil {
		return nil
	}
	return m.signer.Public()
}

// SigningKey returns the key in the shape the JWT signing method expects:
// the private key for RSA and ECDSA, the raw secret for HS256.
func (m *Manager) SigningKey() any {
	if m.symmetric != nil {
		return m.symmetric
	}
	return m.signer
}

// VerificationKey returns the matching verification key.
func (m *Manager) VerificationKey() any {
	if m.symmetric != nil {
		return m.symmetric
	}
	return m.signer.Public()
}

// KeyID returns the stable key ID emitted in the JWT "kid" header.
func (m *Manager) KeyID() string {
	return m.keyID
}

// Algorithm returns the JWT signing algorithm.
func (m *Manager) Algorithm() string {
	return m.algorithm
}

// PublicJWKS returns the JWKS document containing only public keys.
func (m *Manager) PublicJWKS() *jose.JSONWebKeySet {
	return m.jwks
}
