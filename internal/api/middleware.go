package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/projecthub/internal/requestid"
	"github.com/p-blackswan/projecthub/internal/store"
)

const localRequestID = "request_id"

// requestIDMiddleware honors an incoming X-Request-ID or mints one, and
// makes it available to the service through the user context.
func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestid.Header)
		ctx := c.UserContext()
		if id == "" || len(id) > 128 {
			ctx, id = requestid.New(ctx)
		} else {
			ctx = requestid.WithRequestID(ctx, id)
		}
		c.SetUserContext(ctx)
		c.Set(requestid.Header, id)
		c.Locals(localRequestID, id)
		return c.Next()
	}
}

// HTTPRecorder observes completed requests.
type HTTPRecorder interface {
	ObserveHTTP(route, method, code string, d time.Duration)
}

func metricsMiddleware(rec HTTPRecorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		route := c.Route().Path
		if isProbePath(route) {
			return err
		}
		rec.ObserveHTTP(route, c.Method(), strconv.Itoa(responseStatus(c, err)), time.Since(start))
		return err
	}
}

// responseStatus is the status the client will see once the error handler
// has run.
func responseStatus(c *fiber.Ctx, err error) int {
	if err != nil {
		code, _ := problemFor(err)
		return code
	}
	return c.Response().StatusCode()
}

// AuditWriter persists request audit entries.
type AuditWriter interface {
	SaveAudit(ctx context.Context, e *store.AuditEntry) error
}

// auditMiddleware records every mutating API request, successful or not.
func auditMiddleware(w AuditWriter, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return err
		}
		if c.Path() == webhookPath {
			return err
		}

		code := responseStatus(c, err)
		entry := &store.AuditEntry{
			RequestID: requestid.FromContext(c.UserContext()),
			UserID:    actorOf(c).UserID,
			Action:    c.Method() + " " + c.Route().Path,
			Resource:  c.Path(),
			Result:    strconv.Itoa(code),
		}
		if err != nil {
			_, p := problemFor(err)
			entry.Details = p.Kind
		}
		if serr := w.SaveAudit(context.WithoutCancel(c.UserContext()), entry); serr != nil {
			logger.Warn().Err(serr).Str("action", entry.Action).Msg("failed to write audit entry")
		}
		return err
	}
}

func requestLogMiddleware(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if isProbePath(c.Path()) {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		reqLogger := requestid.Logger(c.UserContext(), logger)
		reqLogger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Int("status", responseStatus(c, err)).
			Dur("duration", time.Since(start)).
			Msg("api request")
		return err
	}
}
