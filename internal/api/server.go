// Package api is the HTTP surface of the service: the project REST API,
// probes, metrics and the GitHub webhook receiver.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/projecthub/internal/health"
	"github.com/p-blackswan/projecthub/internal/metrics"
	"github.com/p-blackswan/projecthub/internal/project"
)

const webhookPath = "/webhooks/github"

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
	TLSCert     string
	TLSKey      string
}

// Deps are the components the server exposes. Metrics, Audit and Webhook
// are optional.
type Deps struct {
	Service *project.Service
	Checker *health.Checker
	Metrics *metrics.Metrics
	Audit   AuditWriter
	Webhook http.Handler
}

// Server is the API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		UnescapePath:          true,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		logger: logger,
		config: cfg,
	}

	s.setupMiddleware(cfg, deps)
	s.setupRoutes(deps)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, deps Deps) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	s.app.Use(requestIDMiddleware())

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods:  "GET, POST, PATCH, DELETE, OPTIONS",
			ExposeHeaders: "X-Request-ID, Retry-After",
		}))
	}

	s.app.Use(requestLogMiddleware(s.logger))
	if deps.Metrics != nil {
		s.app.Use(metricsMiddleware(deps.Metrics))
	}
	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}
	s.app.Use(NewAuthMiddleware(cfg.Auth, s.logger))
	if deps.Audit != nil {
		s.app.Use(auditMiddleware(deps.Audit, s.logger))
	}
}

func (s *Server) setupRoutes(deps Deps) {
	// Probes, unauthenticated.
	s.app.Get("/healthz", adaptor.HTTPHandlerFunc(health.LivenessHandler()))
	if deps.Checker != nil {
		s.app.Get("/readyz", adaptor.HTTPHandlerFunc(deps.Checker.ReadinessHandler()))
	}
	if deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}
	if deps.Webhook != nil {
		s.app.Post(webhookPath, adaptor.HTTPHandler(deps.Webhook))
	}

	v1 := s.app.Group("/api/v1")
	NewProjectHandlers(deps.Service, s.logger).RegisterRoutes(v1)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	s.logger.Info().Str("addr", addr).Msg("API server starting")

	if s.config.TLSCert != "" && s.config.TLSKey != "" {
		return s.app.ListenTLS(addr, s.config.TLSCert, s.config.TLSKey)
	}
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}
