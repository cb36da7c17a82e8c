package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
)

// MsgNameExists is surfaced verbatim so callers can offer a rename.
const MsgNameExists = "name already exists on this account"

// mapError normalizes a go-github error into the internal taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindUpstream, op, err, "GitHub request did not complete")
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		e := apperr.Wrap(apperr.KindRateLimited, op, err, "GitHub rate limit exceeded")
		e.StatusCode = statusOf(rateErr.Response)
		e.RetryAfter = time.Until(rateErr.Rate.Reset.Time)
		if e.RetryAfter < 0 {
			e.RetryAfter = 0
		}
		return e
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		e := apperr.Wrap(apperr.KindRateLimited, op, err, "GitHub secondary rate limit exceeded")
		e.StatusCode = statusOf(abuseErr.Response)
		if abuseErr.RetryAfter != nil {
			e.RetryAfter = *abuseErr.RetryAfter
		}
		return e
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) {
		return mapErrorResponse(op, respErr)
	}

	// No response at all: transport failure.
	return apperr.Wrap(apperr.KindUpstream, op, err, "GitHub request failed")
}

func mapErrorResponse(op string, respErr *gh.ErrorResponse) error {
	status := statusOf(respErr.Response)
	detail := describe(respErr)
	e := &apperr.Error{Op: op, StatusCode: status, Err: respErr}

	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = apperr.KindRateLimited
		e.Message = "GitHub rate limit exceeded"
		e.RetryAfter = retryAfterHeader(respErr.Response)
	case status >= 500:
		e.Kind = apperr.KindUpstream
		e.Message = "GitHub is unavailable"
	case status == http.StatusNotFound:
		e.Kind = apperr.KindNotFound
		e.Message = "not found on GitHub"
	case status == http.StatusForbidden:
		e.Kind = apperr.KindForbidden
		e.Message = "GitHub denied the request: " + detail
	case status == http.StatusUnauthorized:
		// The service's own credentials were rejected. Not the caller's
		// fault, and not transient.
		e.Kind = apperr.KindUpstream
		e.Permanent = true
		e.Message = "GitHub rejected the configured credentials"
	case status == http.StatusConflict:
		e.Kind = apperr.KindConflict
		e.Message = detail
	case status == http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(detail), "already exists") {
			e.Kind = apperr.KindConflict
		} else {
			e.Kind = apperr.KindValidation
		}
		e.Message = detail
	default:
		e.Kind = apperr.KindValidation
		e.Message = detail
	}
	return e
}

// describe flattens the GitHub message and its field errors.
func describe(respErr *gh.ErrorResponse) string {
	parts := make([]string, 0, len(respErr.Errors)+1)
	for _, fe := range respErr.Errors {
		switch {
		case fe.Message != "":
			parts = append(parts, fe.Message)
		case fe.Code != "":
			parts = append(parts, fmt.Sprintf("%s %s %s", fe.Resource, fe.Field, fe.Code))
		}
	}
	if len(parts) == 0 && respErr.Message != "" {
		parts = append(parts, respErr.Message)
	}
	return strings.Join(parts, "; ")
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}
