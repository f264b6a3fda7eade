// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
)

// StorageType selects the storage backend.
type StorageType string

const (
	// StorageMemory keeps all state in process memory. Single instance
	// only; state is lost on restart.
	StorageMemory StorageType = "memory"

	// StorageRedis shares state through Redis, for multi-replica
	// deployments.
	StorageRedis StorageType = "redis"
)

// Config is the fully resolved configuration for the authorization
// server. There are no security-relevant defaults: the issuer, signing
// key, IdP credentials, and access policy must all be set explicitly.
type Config struct {
	// Issuer is the external base URL of the server, e.g.
	// "https://auth.example.test". Used as the iss and aud claim and to
	// build all advertised endpoint URLs.
	Issuer string

	// SigningKey is the private key material for JWT signing, PEM or
	// base64-encoded DER.
	SigningKey []byte

	// SymmetricSecret enables HS256 signing when SigningKey is absent.
	// Bootstrap use only.
	SymmetricSecret []byte

	// SigningAlgorithm optionally pins the JWT algorithm. Empty derives
	// it from the key type.
	SigningAlgorithm string

	// GitHub holds the OAuth App credentials for the identity provider.
	GitHub GitHubConfig

	// AllowedUsers is the comma-separated login allow-list, or "*" to
	// allow every authenticated user. Empty denies everyone, so it must
	// be set deliberately.
	AllowedUsers string

	// Scopes advertised in the discovery document.
	Scopes []string

	// ProtocolVersion is the MCP protocol revision echoed in the
	// discovery document. Optional.
	ProtocolVersion string

	// Token and flow lifetimes. Zero values select the package defaults.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	CodeTTL         time.Duration
	StateTTL        time.Duration

	// ClientTTL bounds dynamically registered clients. Zero means
	// registrations never expire.
	ClientTTL time.Duration

	// Storage selects and configures the backend.
	Storage StorageConfig
}

// GitHubConfig holds the GitHub OAuth App settings.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string

	// Endpoint overrides for testing; empty means GitHub.com.
	AuthURL  string
	TokenURL string
	APIURL   string
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Type is memory or redis. Defaults to memory.
	Type StorageType

	// Redis is required when Type is redis.
	Redis storage.RedisConfig
}

// Validate checks the configuration before any component is built.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	u, err := url.Parse(c.Issuer)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL, got %q", c.Issuer)
	}
	if u.Scheme != "https" && u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		return fmt.Errorf("issuer must use https, got %q", c.Issuer)
	}

	if len(c.SigningKey) == 0 && len(c.SymmetricSecret) == 0 {
		return errors.New("signing key is required")
	}
	if c.GitHub.ClientID == "" || c.GitHub.ClientSecret == "" {
		return errors.New("github client credentials are required")
	}
	if c.AllowedUsers == "" {
		return errors.New("allowed users must be set explicitly (use \"*\" to allow everyone)")
	}

	switch c.Storage.Type {
	case "", StorageMemory:
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	return nil
}
