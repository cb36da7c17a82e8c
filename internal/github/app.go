package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/projecthub/pkg/tokenstore"
)

// AppClient authenticates as one GitHub App installation.
type AppClient struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	baseURL        *url.URL
	tokenStore     tokenstore.Store
	httpClient     *http.Client
	logger         zerolog.Logger
}

// NewAppClientFromKeyBytes creates an installation client from PEM key bytes.
func NewAppClientFromKeyBytes(appID, installationID int64, keyData []byte, baseURL string, store tokenstore.Store, logger zerolog.Logger) (*AppClient, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &AppClient{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		baseURL:        u,
		tokenStore:     store,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger: logger.With().
			Str("component", "github.app").
			Int64("installation_id", installationID).
			Logger(),
	}, nil
}

// generateJWT creates the short-lived JWT the App uses to mint installation tokens.
func (c *AppClient) generateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", c.appID),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

// InstallationClient returns a go-github client authenticated with an
// installation token. The token is cached until shortly before expiry.
func (c *AppClient) InstallationClient(ctx context.Context, timeout time.Duration) (*gh.Client, error) {
	token, err := c.installationToken(ctx)
	if err != nil {
		return nil, err
	}
	return newGitHubClient(c.baseURL, &tokenTransport{token: token, base: http.DefaultTransport}, timeout), nil
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "token "+t.token)
	return t.base.RoundTrip(req2)
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		raw = "https://api.github.com/"
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing GitHub API URL: %w", err)
	}
	return u, nil
}

func newGitHubClient(baseURL *url.URL, transport http.RoundTripper, timeout time.Duration) *gh.Client {
	client := gh.NewClient(&http.Client{Transport: transport, Timeout: timeout})
	client.BaseURL = baseURL
	return client
}
