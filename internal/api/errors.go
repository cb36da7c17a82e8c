package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
)

// Problem is the error body of every failed request.
type Problem struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindAuthorization, apperr.KindForbidden:
		return fiber.StatusForbidden
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidState:
		return fiber.StatusConflict
	case apperr.KindRateLimited:
		return fiber.StatusTooManyRequests
	case apperr.KindUpstream:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// kindForStatus classifies errors raised by fiber itself (unknown route,
// oversized body, ...) that never went through the service.
func kindForStatus(code int) string {
	switch code {
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUnprocessableEntity:
		return string(apperr.KindValidation)
	case fiber.StatusUnauthorized:
		return "unauthenticated"
	case fiber.StatusForbidden:
		return string(apperr.KindAuthorization)
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return string(apperr.KindNotFound)
	case fiber.StatusTooManyRequests:
		return string(apperr.KindRateLimited)
	default:
		return string(apperr.KindInternal)
	}
}

// problemFor builds the status and body for err.
func problemFor(err error) (int, Problem) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, Problem{Kind: kindForStatus(fe.Code), Message: fe.Message}
	}
	kind := apperr.KindOf(err)
	p := Problem{Kind: string(kind), Message: apperr.MessageOf(err)}
	if d := apperr.RetryAfterOf(err); d > 0 {
		p.RetryAfterSeconds = int(math.Ceil(d.Seconds()))
	}
	return statusFor(kind), p
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, problem := problemFor(err)

		ev := logger.Warn()
		if code >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Err(err).
			Int("status", code).
			Str("kind", problem.Kind).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Interface("request_id", c.Locals(localRequestID)).
			Msg("request failed")

		if problem.RetryAfterSeconds > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(problem.RetryAfterSeconds))
		}
		return c.Status(code).JSON(problem)
	}
}

// badRequest wraps a body or parameter decoding failure.
func badRequest(op, msg string, err error) error {
	return apperr.Wrap(apperr.KindValidation, op, err, msg)
}
