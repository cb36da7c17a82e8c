package github

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/projecthub/pkg/tokenstore"
)

// ClientSource hands out authenticated go-github clients per repository owner.
type ClientSource interface {
	ForOwner(ctx context.Context, owner string) (*gh.Client, error)
}

// TokenSource authenticates every call with a single personal access token.
type TokenSource struct {
	client *gh.Client
}

// NewTokenSource creates a TokenSource against baseURL.
func NewTokenSource(baseURL, token string, timeout time.Duration) (*TokenSource, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	client := newGitHubClient(u, &tokenTransport{token: token, base: http.DefaultTransport}, timeout)
	return &TokenSource{client: client}, nil
}

// ForOwner returns the shared client; a token is not scoped to an owner.
func (s *TokenSource) ForOwner(_ context.Context, _ string) (*gh.Client, error) {
	return s.client, nil
}

// OrgInstallation maps an org/owner name to its installation ID.
type OrgInstallation struct {
	Owner          string `json:"owner"`
	InstallationID int64  `json:"installation_id"`
}

// AppSourceConfig configures an AppSource.
type AppSourceConfig struct {
	AppID         int64
	PrivateKey    []byte
	BaseURL       string
	Timeout       time.Duration
	Orgs          []OrgInstallation
	CacheSize     int
	OnCacheResize func(n int)
}

// AppSource manages GitHub App installations, one per org. Installation
// clients are created lazily and kept in a bounded LRU; their tokens live in
// the token store so an evicted client does not force a new token.
type AppSource struct {
	cfg    AppSourceConfig
	store  tokenstore.Store
	logger zerolog.Logger

	mu        sync.Mutex
	orgs      map[string]int64 // owner → installationID
	clients   *clientCache
	fallback  string
	singleOrg bool
}

// NewAppSource creates an AppSource. The first org becomes the default owner.
func NewAppSource(cfg AppSourceConfig, store tokenstore.Store, logger zerolog.Logger) (*AppSource, error) {
	if len(cfg.Orgs) == 0 {
		return nil, fmt.Errorf("at least one org installation is required")
	}
	if cfg.CacheSize < 1 {
		cfg.CacheSize = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	orgMap := make(map[string]int64, len(cfg.Orgs))
	for _, o := range cfg.Orgs {
		orgMap[strings.ToLower(o.Owner)] = o.InstallationID
	}

	return &AppSource{
		cfg:       cfg,
		store:     store,
		logger:    logger.With().Str("component", "github.apps").Logger(),
		orgs:      orgMap,
		clients:   newClientCache(cfg.CacheSize),
		fallback:  strings.ToLower(cfg.Orgs[0].Owner),
		singleOrg: len(cfg.Orgs) == 1,
	}, nil
}

// ForOwner returns an installation-authenticated client for owner. An empty
// owner selects the default org.
func (s *AppSource) ForOwner(ctx context.Context, owner string) (*gh.Client, error) {
	c, err := s.appClient(owner)
	if err != nil {
		return nil, err
	}
	return c.InstallationClient(ctx, s.cfg.Timeout)
}

func (s *AppSource) appClient(owner string) (*AppClient, error) {
	key := strings.ToLower(owner)
	if key == "" {
		key = s.fallback
	}

	if c, ok := s.clients.get(key); ok {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring the lock.
	if c, ok := s.clients.get(key); ok {
		return c, nil
	}

	instID, ok := s.orgs[key]
	if !ok {
		if !s.singleOrg {
			return nil, fmt.Errorf("no GitHub installation configured for org %q (configured: %s)", owner, strings.Join(s.Owners(), ", "))
		}
		instID = s.orgs[s.fallback]
		s.logger.Debug().Str("owner", owner).Str("fallback", s.fallback).Msg("single-org mode: using fallback installation")
	}

	client, err := NewAppClientFromKeyBytes(s.cfg.AppID, instID, s.cfg.PrivateKey, s.cfg.BaseURL, s.store, s.logger)
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", owner, err)
	}

	if evicted, ok := s.clients.put(key, client); ok {
		s.logger.Debug().Str("owner", evicted).Msg("evicted GitHub installation client")
	}
	if s.cfg.OnCacheResize != nil {
		s.cfg.OnCacheResize(s.clients.len())
	}
	s.logger.Info().Str("owner", owner).Int64("installation_id", instID).Msg("GitHub client created for org")
	return client, nil
}

// DefaultOwner returns the fallback org name.
func (s *AppSource) DefaultOwner() string {
	return s.fallback
}

// HasOwner checks if an org is configured.
func (s *AppSource) HasOwner(owner string) bool {
	_, ok := s.orgs[strings.ToLower(owner)]
	return ok
}

// Owners returns all configured org names, sorted.
func (s *AppSource) Owners() []string {
	owners := make([]string, 0, len(s.orgs))
	for o := range s.orgs {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}
