package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// OrgInstallation pairs an org name with its GitHub App installation ID.
type OrgInstallation struct {
	Owner          string
	InstallationID int64
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	DBPath      string `envconfig:"DB_PATH" default:"projecthub.db"`

	// GitHub. Either GITHUB_TOKEN (personal access token) or the App
	// credentials below must be set.
	GitHubAPIURL string `envconfig:"GITHUB_API_URL" default:"https://api.github.com/"`
	GitHubToken  string `envconfig:"GITHUB_TOKEN"`
	// Owner under which new repositories are created. Empty means the
	// authenticated user.
	GitHubOwner string `envconfig:"GITHUB_OWNER"`

	GitHubAppID          int64  `envconfig:"GITHUB_APP_ID"`
	GitHubPrivateKeyPath string `envconfig:"GITHUB_PRIVATE_KEY_PATH"`
	// Comma-separated "owner:installationID" pairs
	// Example: "acme:111307878,acme-labs:222408999"
	GitHubOrgs string `envconfig:"GITHUB_ORGS"`

	GitHubTimeout        time.Duration `envconfig:"GITHUB_TIMEOUT" default:"30s"`
	GitHubRetryAttempts  int           `envconfig:"GITHUB_RETRY_ATTEMPTS" default:"3"`
	GitHubRetryBaseDelay time.Duration `envconfig:"GITHUB_RETRY_BASE_DELAY" default:"500ms"`
	GitHubRetryMaxDelay  time.Duration `envconfig:"GITHUB_RETRY_MAX_DELAY" default:"5s"`
	// Secret for POST /webhooks/github. Empty disables the endpoint.
	GitHubWebhookSecret string `envconfig:"GITHUB_WEBHOOK_SECRET"`

	// API
	AuthMode       string `envconfig:"AUTH_MODE" default:"jwt"` // "jwt" or "none"
	AuthJWTSecret  string `envconfig:"AUTH_JWT_SECRET"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"100"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`
	TLSCert        string `envconfig:"TLS_CERT"`
	TLSKey         string `envconfig:"TLS_KEY"`

	// Retention for the request audit log and the project event trail
	AuditRetention    time.Duration `envconfig:"AUDIT_RETENTION" default:"720h"`
	EventRetention    time.Duration `envconfig:"EVENT_RETENTION" default:"8760h"`
	RetentionInterval time.Duration `envconfig:"RETENTION_INTERVAL" default:"6h"`

	// Slack notifications (optional)
	SlackBotToken      string `envconfig:"SLACK_BOT_TOKEN"`
	SlackNotifyChannel string `envconfig:"SLACK_NOTIFY_CHANNEL"`
}

// GitHubAppEnabled returns true if GitHub App credentials are configured.
func (c *Config) GitHubAppEnabled() bool {
	return c.GitHubAppID > 0 && c.GitHubPrivateKeyPath != "" && c.GitHubOrgs != ""
}

// SlackEnabled returns true if lifecycle notifications should go to Slack.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackNotifyChannel != ""
}

// Validate checks settings that cannot be defaulted. Any code path that
// reaches the GitHub adapter needs credentials, so their absence is fatal.
func (c *Config) Validate() error {
	if c.GitHubAPIURL == "" {
		return fmt.Errorf("GITHUB_API_URL must not be empty")
	}
	if c.GitHubToken == "" && !c.GitHubAppEnabled() {
		return fmt.Errorf("GitHub credentials missing: set GITHUB_TOKEN or GITHUB_APP_ID, GITHUB_PRIVATE_KEY_PATH and GITHUB_ORGS")
	}
	if c.GitHubAppEnabled() {
		if _, err := c.ParseGitHubOrgs(); err != nil {
			return err
		}
	}
	switch c.AuthMode {
	case "jwt":
		if c.AuthJWTSecret == "" {
			return fmt.Errorf("AUTH_JWT_SECRET is required when AUTH_MODE=jwt")
		}
	case "none":
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.GitHubRetryAttempts < 1 {
		return fmt.Errorf("GITHUB_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

// ParseGitHubOrgs parses GITHUB_ORGS into an OrgInstallation list.
// Format: "owner1:installationID1,owner2:installationID2"
func (c *Config) ParseGitHubOrgs() ([]OrgInstallation, error) {
	return parseOrgInstallations(c.GitHubOrgs)
}

func parseOrgInstallations(raw string) ([]OrgInstallation, error) {
	parts := strings.Split(raw, ",")
	orgs := make([]OrgInstallation, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.SplitN(part, ":", 2)
		if len(tokens) != 2 {
			return nil, fmt.Errorf("invalid org format %q, expected owner:installationID", part)
		}
		owner := strings.TrimSpace(tokens[0])
		id, err := strconv.ParseInt(strings.TrimSpace(tokens[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid installation ID for %q: %w", owner, err)
		}
		orgs = append(orgs, OrgInstallation{Owner: owner, InstallationID: id})
	}
	if len(orgs) == 0 {
		return nil, fmt.Errorf("GITHUB_ORGS is set but contains no valid entries")
	}
	return orgs, nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
