package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Installation tokens last one hour; refresh five minutes early.
const tokenTTL = 55 * time.Minute

// installationTokenResponse mirrors the GitHub API response.
type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func installationTokenKey(installationID int64) string {
	return fmt.Sprintf("github_installation_token:%d", installationID)
}

// installationToken returns a cached or freshly minted installation token.
func (c *AppClient) installationToken(ctx context.Context) (string, error) {
	key := installationTokenKey(c.installationID)
	tok, err := c.tokenStore.Get(ctx, key)
	if err == nil {
		c.logger.Debug().Msg("using cached installation token")
		return tok.Value, nil
	}

	c.logger.Info().Msg("generating new installation token")
	jwtToken, err := c.generateJWT()
	if err != nil {
		return "", fmt.Errorf("generating JWT: %w", err)
	}

	endpoint := c.baseURL.JoinPath("app", "installations", fmt.Sprint(c.installationID), "access_tokens")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("installation token request failed (status %d): %s", resp.StatusCode, body)
	}

	var tokenResp installationTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	ttl := tokenTTL
	if !tokenResp.ExpiresAt.IsZero() {
		if until := time.Until(tokenResp.ExpiresAt) - 5*time.Minute; until > 0 && until < ttl {
			ttl = until
		}
	}
	if err := c.tokenStore.Set(ctx, key, tokenResp.Token, ttl); err != nil {
		c.logger.Warn().Err(err).Msg("failed to cache installation token")
	}

	return tokenResp.Token, nil
}
