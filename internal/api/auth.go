package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/projecthub/internal/project"
)

// Auth modes.
const (
	AuthModeJWT  = "jwt"
	AuthModeNone = "none"
)

// Identity headers trusted in AuthModeNone, for local development behind a
// gateway that has already authenticated the caller.
const (
	HeaderUserID = "X-User-ID"
	HeaderLogin  = "X-GitHub-Login"
	HeaderRole   = "X-User-Role"
)

const localActor = "actor"

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // "jwt" or "none"
	JWTSecret string
}

// Claims are the session token claims issued by the identity provider.
// Subject is the user ID.
type Claims struct {
	Login string `json:"login"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware returns a Fiber middleware that establishes the actor.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	secret := []byte(cfg.JWTSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(c *fiber.Ctx) error {
		if isUnauthenticatedPath(c.Path()) {
			return c.Next()
		}

		if cfg.Mode == AuthModeNone {
			actor := project.Actor{
				UserID:      c.Get(HeaderUserID),
				Login:       c.Get(HeaderLogin),
				AccountRole: c.Get(HeaderRole),
			}
			if actor.UserID == "" {
				return fiber.NewError(fiber.StatusUnauthorized, HeaderUserID+" header is required")
			}
			c.Locals(localActor, actor)
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization header must use Bearer scheme")
		}

		claims := &Claims{}
		_, err := parser.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil || claims.Subject == "" {
			logger.Warn().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid token")
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}

		c.Locals(localActor, project.Actor{
			UserID:      claims.Subject,
			Login:       claims.Login,
			AccountRole: claims.Role,
		})
		return c.Next()
	}
}

func actorOf(c *fiber.Ctx) project.Actor {
	a, _ := c.Locals(localActor).(project.Actor)
	return a
}

// isUnauthenticatedPath reports probe endpoints and the webhook, which
// authenticates with its own signature.
func isUnauthenticatedPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics", webhookPath:
		return true
	}
	return false
}
