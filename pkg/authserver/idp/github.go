// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/time/rate"
)

// DefaultGitHubAPIURL is the REST endpoint used to resolve user identity.
const DefaultGitHubAPIURL = "https://api.github.com"

// userAgent identifies us to the GitHub API, which rejects requests
// without one.
const userAgent = "fleetauth/1.0"

// maxResponseSize caps provider response bodies.
const maxResponseSize = 64 * 1024

// GitHubConfig configures the GitHub identity provider.
type GitHubConfig struct {
	// ClientID and ClientSecret are the GitHub OAuth App credentials.
	ClientID     string
	ClientSecret string

	// RedirectURL is our /callback endpoint as registered with the
	// OAuth App.
	RedirectURL string

	// Scopes requested from GitHub. Defaults to read:user.
	Scopes []string

	// AuthURL, TokenURL, and APIURL override the GitHub.com endpoints,
	// for testing. Empty means GitHub.com.
	AuthURL  string
	TokenURL string
	APIURL   string

	// HTTPClient overrides the default HTTP client, for testing.
	HTTPClient *http.Client
}

// GitHub authenticates users against GitHub.com's OAuth flow and REST
// API. It implements the Provider interface.
type GitHub struct {
	oauth   *oauth2.Config
	apiURL  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewGitHub creates a GitHub identity provider.
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("github client credentials are required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("github redirect URL is required")
	}

	endpoint := github.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultGitHubAPIURL
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user"}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	// GitHub allows 5,000 requests/hour; limit locally well below that.
	limiter := rate.NewLimiter(100, 200)

	return &GitHub{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		apiURL:  apiURL,
		client:  client,
		limiter: limiter,
	}, nil
}

// AuthorizationURL builds the GitHub authorization URL for the given state.
func (g *GitHub) AuthorizationURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// Exchange redeems a GitHub authorization code for a GitHub access token.
func (g *GitHub) Exchange(ctx context.Context, code string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait failed: %w", err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: code exchange failed: %w", ErrProvider, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token in exchange response", ErrProvider)
	}
	return tok.AccessToken, nil
}

// githubUser is the subset of GitHub's /user response we consume.
// Reference: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserInfo resolves the identity behind a GitHub access token via the
// /user endpoint. Transient failures (network errors, 5xx) are retried
// once.
func (g *GitHub) UserInfo(ctx context.Context, accessToken string) (*Identity, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	user, transient, err := g.fetchUser(ctx, accessToken)
	if err != nil && transient {
		slog.Debug("github userinfo failed, retrying once", "error", err)
		user, _, err = g.fetchUser(ctx, accessToken)
	}
	if err != nil {
		return nil, err
	}

	if user.ID == 0 {
		return nil, fmt.Errorf("%w: missing user ID in response", ErrProvider)
	}

	return &Identity{
		// GitHub logins are mutable; the numeric ID is the stable subject.
		Subject: fmt.Sprintf("%d", user.ID),
		Login:   user.Login,
		Name:    user.Name,
		Email:   user.Email,
	}, nil
}

// fetchUser performs a single /user request. The transient flag reports
// whether the failure is worth retrying (network error or 5xx).
func (g *GitHub) fetchUser(ctx context.Context, accessToken string) (*githubUser, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiURL+"/user", nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: userinfo request failed: %w", ErrProvider, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, true, fmt.Errorf("%w: failed to read userinfo response: %w", ErrProvider, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("%w: userinfo returned status %d", ErrProvider, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: userinfo returned status %d", ErrProvider, resp.StatusCode)
	}

	var user githubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, false, fmt.Errorf("%w: failed to decode userinfo response: %w", ErrProvider, err)
	}
	return &user, false, nil
}

var _ Provider = (*GitHub)(nil)
