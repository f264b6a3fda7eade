// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Package keys manages the signing material for the authorization server.
// It loads a configured private key, derives a stable key ID per RFC 7638,
// and exposes the public JWKS served at the /jwks endpoint.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// ErrInvalidKey is returned when key material is absent or cannot be parsed.
var ErrInvalidKey = fmt.Errorf("invalid key")

// ParsePrivateKey parses private key material supplied as PEM or as
// base64-encoded DER. Supports RSA (PKCS1 and PKCS8) and ECDSA (SEC1 and
// PKCS8) keys.
func ParsePrivateKey(material []byte) (crypto.Signer, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("%w: no key material provided", ErrInvalidKey)
	}

	der := material
	if block, _ := pem.Decode(material); block != nil {
		der = block.Bytes
	} else if decoded, err := base64.StdEncoding.DecodeString(string(material)); err == nil {
		der = decoded
	}

	// Try PKCS1 first (RSA only)
	if rsaKey, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return rsaKey, nil
	}

	// Try EC private key (SEC 1, ASN.1 DER form)
	if ecKey, err := x509.ParseECPrivateKey(der); err == nil {
		return ecKey, nil
	}

	// Try PKCS8 (supports both RSA and EC)
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse private key: %v", ErrInvalidKey, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: key does not implement crypto.Signer", ErrInvalidKey)
	}

	return signer, nil
}

// DeriveKeyID computes a key ID from the public key using the RFC 7638 JWK
// Thumbprint: base64url(SHA-256(JWK canonical form)).
func DeriveKeyID(key crypto.Signer) (string, error) {
	jwk := jose.JSONWebKey{
		Key: key.Public(),
	}

	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

// DeriveAlgorithm determines the JWT signing algorithm for the given key
// based on key type and parameters.
func DeriveAlgorithm(key crypto.Signer) (string, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return "RS256", nil
	case *ecdsa.PrivateKey:
		return deriveECAlgorithm(k.Curve)
	default:
		return "", fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, key)
	}
}

func deriveECAlgorithm(curve elliptic.Curve) (string, error) {
	switch curve {
	case elliptic.P256():
		return "ES256", nil
	case elliptic.P384():
		return "ES384", nil
	case elliptic.P521():
		return "ES512", nil
	default:
		return "", fmt.Errorf("%w: unsupported EC curve %s", ErrInvalidKey, curve.Params().Name)
	}
}

// ValidateAlgorithmForKey checks that the configured algorithm is compatible
// with the key type.
func ValidateAlgorithmForKey(alg string, key crypto.Signer) error {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		switch alg {
		case "RS256", "RS384", "RS512":
			return nil
		default:
			return fmt.Errorf("%w: algorithm %s is not compatible with RSA key", ErrInvalidKey, alg)
		}
	case *ecdsa.PrivateKey:
		expectedAlg, err := deriveECAlgorithm(k.Curve)
		if err != nil {
			return err
		}
		if alg != expectedAlg {
			return fmt.Errorf("%w: algorithm %s is not compatible with EC key using curve %s (expected %s)",
				ErrInvalidKey, alg, k.Curve.Params().Name, expectedAlg)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, key)
	}
}
