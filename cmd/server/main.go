package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/projecthub/internal/api"
	"github.com/p-blackswan/projecthub/internal/config"
	"github.com/p-blackswan/projecthub/internal/github"
	"github.com/p-blackswan/projecthub/internal/health"
	"github.com/p-blackswan/projecthub/internal/metrics"
	"github.com/p-blackswan/projecthub/internal/project"
	"github.com/p-blackswan/projecthub/internal/retry"
	slackpkg "github.com/p-blackswan/projecthub/internal/slack"
	"github.com/p-blackswan/projecthub/internal/store"
	"github.com/p-blackswan/projecthub/pkg/tokenstore"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Bool("github_app", cfg.GitHubAppEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting projecthub")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ds, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	defer ds.Close()

	m := metrics.New()

	tokens := tokenstore.NewMemoryStore()
	src, err := clientSource(cfg, tokens, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init GitHub client")
	}

	adapter := github.NewAdapter(src, logger,
		github.WithRetry(retry.Config{
			MaxAttempts: cfg.GitHubRetryAttempts,
			BaseDelay:   cfg.GitHubRetryBaseDelay,
			MaxDelay:    cfg.GitHubRetryMaxDelay,
			Jitter:      true,
		}),
		github.WithRecorder(m),
	)

	opts := []project.Option{
		project.WithOwner(cfg.GitHubOwner),
		project.WithRecorder(m),
	}
	if cfg.SlackEnabled() {
		opts = append(opts, project.WithNotifier(slackpkg.NewNotifier(cfg.SlackBotToken, cfg.SlackNotifyChannel, logger)))
		logger.Info().Str("channel", cfg.SlackNotifyChannel).Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack not configured, lifecycle notifications disabled")
	}
	svc := project.NewService(project.NewStore(ds, logger), adapter, logger, opts...)

	checker := health.NewChecker(logger)
	checker.Register("db", ds.Ping)
	checker.RegisterOptional("github", func(ctx context.Context) error {
		return adapter.Ping(ctx, cfg.GitHubOwner)
	})

	var webhook http.Handler
	if cfg.GitHubWebhookSecret != "" {
		wh := github.NewWebhookHandler(cfg.GitHubWebhookSecret, logger)
		svc.RegisterWebhooks(wh)
		webhook = wh
	} else {
		logger.Info().Msg("GITHUB_WEBHOOK_SECRET not set, webhook endpoint disabled")
	}

	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		Auth: api.AuthConfig{
			Mode:      cfg.AuthMode,
			JWTSecret: cfg.AuthJWTSecret,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOrigins,
		TLSCert:     cfg.TLSCert,
		TLSKey:      cfg.TLSKey,
	}, api.Deps{
		Service: svc,
		Checker: checker,
		Metrics: m,
		Audit:   ds,
		Webhook: webhook,
	}, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runMaintenance(ctx, ds, tokens, store.RetentionPolicy{
			AuditLog:      cfg.AuditRetention,
			ProjectEvents: cfg.EventRetention,
		}, cfg.RetentionInterval, logger)
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case <-ctx.Done():
		logger.Warn().Msg("server stopped unexpectedly, shutting down")
	}

	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("projecthub stopped")
}

// clientSource picks GitHub App installations when configured and falls back
// to the personal access token otherwise.
func clientSource(cfg *config.Config, tokens tokenstore.Store, m *metrics.Metrics, logger zerolog.Logger) (github.ClientSource, error) {
	if !cfg.GitHubAppEnabled() {
		return github.NewTokenSource(cfg.GitHubAPIURL, cfg.GitHubToken, cfg.GitHubTimeout)
	}

	key, err := os.ReadFile(cfg.GitHubPrivateKeyPath)
	if err != nil {
		return nil, err
	}
	parsed, err := cfg.ParseGitHubOrgs()
	if err != nil {
		return nil, err
	}
	orgs := make([]github.OrgInstallation, 0, len(parsed))
	for _, o := range parsed {
		orgs = append(orgs, github.OrgInstallation{Owner: o.Owner, InstallationID: o.InstallationID})
	}

	return github.NewAppSource(github.AppSourceConfig{
		AppID:         cfg.GitHubAppID,
		PrivateKey:    key,
		BaseURL:       cfg.GitHubAPIURL,
		Timeout:       cfg.GitHubTimeout,
		Orgs:          orgs,
		OnCacheResize: m.SetGitHubClients,
	}, tokens, logger)
}

// runMaintenance applies the retention policy and drops expired installation
// tokens every interval until ctx is cancelled.
func runMaintenance(ctx context.Context, ds *store.Store, tokens tokenstore.Store, p store.RetentionPolicy, every time.Duration, logger zerolog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ds.RunRetention(ctx, p)
			if err != nil {
				logger.Error().Err(err).Msg("retention sweep failed")
			} else if n > 0 {
				logger.Info().Int64("rows", n).Msg("retention sweep removed rows")
			}
			if dropped, err := tokens.Cleanup(ctx); err == nil && dropped > 0 {
				logger.Debug().Int("tokens", dropped).Msg("dropped expired installation tokens")
			}
		}
	}
}
