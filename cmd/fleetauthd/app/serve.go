// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fleetauth/fleetauth/pkg/authserver"
	"github.com/fleetauth/fleetauth/pkg/authserver/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	Long: `Start the authorization server. All flags can also be set through
environment variables with the FLEETAUTH_ prefix, e.g. FLEETAUTH_ISSUER or
FLEETAUTH_GITHUB_CLIENT_SECRET.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 30 * time.Second // IdP round trips happen inside /callback
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 35 * time.Second // Must exceed serverRequestTimeout so the middleware answers first
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	flags := serveCmd.Flags()

	flags.String("address", ":8080", "Address to listen on")
	flags.String("issuer", "", "External base URL of the server, e.g. https://auth.example.com")
	flags.String("signing-key-file", "", "Path to the JWT signing key (PEM)")
	flags.String("signing-algorithm", "", "JWT signing algorithm; derived from the key when empty")
	flags.String("symmetric-secret", "", "HS256 bootstrap secret, used only when no signing key is configured")
	flags.String("github-client-id", "", "GitHub OAuth App client ID")
	flags.String("github-client-secret", "", "GitHub OAuth App client secret")
	flags.String("allowed-users", "", "Comma-separated GitHub logins allowed to authenticate, or * for everyone")
	flags.StringSlice("scopes", nil, "Scopes advertised in the discovery document")
	flags.Duration("access-token-ttl", 0, "Access token lifetime; 0 selects the default")
	flags.Duration("refresh-token-ttl", 0, "Refresh token lifetime; 0 selects the default")
	flags.Duration("state-ttl", 0, "Authorization request lifetime; 0 selects the default")
	flags.Duration("code-ttl", 0, "Authorization code lifetime; 0 selects the default")
	flags.Duration("client-ttl", 0, "Dynamic client registration lifetime; 0 means registrations never expire")
	flags.String("protocol-version", "", "MCP protocol revision echoed in the discovery document")
	flags.String("storage", "memory", "Storage backend: memory or redis")
	flags.String("redis-addr", "", "Redis address, host:port")
	flags.String("redis-username", "", "Redis username")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database number")
	flags.String("redis-key-prefix", "", "Prefix for every Redis key")

	for _, name := range []string{
		"address", "issuer", "signing-key-file", "signing-algorithm", "symmetric-secret",
		"github-client-id", "github-client-secret", "allowed-users", "scopes",
		"access-token-ttl", "refresh-token-ttl", "state-ttl", "code-ttl",
		"client-ttl", "protocol-version",
		"storage", "redis-addr", "redis-username", "redis-password",
		"redis-db", "redis-key-prefix",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
		}
	}

	viper.SetEnvPrefix("FLEETAUTH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	srv, err := authserver.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(serverRequestTimeout),
	)
	router.Mount("/", srv.Handler())

	address := viper.GetString("address")
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "address", address, "issuer", cfg.Issuer)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
		return err
	}

	slog.Info("shutdown complete")
	return nil
}

// buildConfig resolves the server configuration from flags and
// environment. The signing key may come from a file or directly from
// FLEETAUTH_SIGNING_KEY.
func buildConfig() (authserver.Config, error) {
	var cfg authserver.Config

	cfg.Issuer = viper.GetString("issuer")
	cfg.SigningAlgorithm = viper.GetString("signing-algorithm")
	cfg.GitHub.ClientID = viper.GetString("github-client-id")
	cfg.GitHub.ClientSecret = viper.GetString("github-client-secret")
	cfg.AllowedUsers = viper.GetString("allowed-users")
	cfg.Scopes = viper.GetStringSlice("scopes")
	cfg.ProtocolVersion = viper.GetString("protocol-version")
	cfg.AccessTokenTTL = viper.GetDuration("access-token-ttl")
	cfg.RefreshTokenTTL = viper.GetDuration("refresh-token-ttl")
	cfg.StateTTL = viper.GetDuration("state-ttl")
	cfg.CodeTTL = viper.GetDuration("code-ttl")
	cfg.ClientTTL = viper.GetDuration("client-ttl")

	if keyFile := viper.GetString("signing-key-file"); keyFile != "" {
		material, err := os.ReadFile(keyFile) // #nosec G304 - path comes from the operator
		if err != nil {
			return cfg, fmt.Errorf("failed to read signing key: %w", err)
		}
		cfg.SigningKey = material
	} else if key := viper.GetString("signing-key"); key != "" {
		cfg.SigningKey = []byte(key)
	}
	if secret := viper.GetString("symmetric-secret"); secret != "" {
		cfg.SymmetricSecret = []byte(secret)
	}

	cfg.Storage = authserver.StorageConfig{
		Type: authserver.StorageType(viper.GetString("storage")),
		Redis: storage.RedisConfig{
			Addr:      viper.GetString("redis-addr"),
			Username:  viper.GetString("redis-username"),
			Password:  viper.GetString("redis-password"),
			DB:        viper.GetInt("redis-db"),
			KeyPrefix: viper.GetString("redis-key-prefix"),
		},
	}

	return cfg, nil
}
