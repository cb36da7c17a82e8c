package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/stretchr/testify/assert"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
)

func errorResponse(status int, message string, fieldErrs ...gh.Error) *gh.ErrorResponse {
	return &gh.ErrorResponse{
		Response: &http.Response{
			StatusCode: status,
			Header:     http.Header{},
			Request:    httptest.NewRequest(http.MethodGet, "/repos/acme/alpha", nil),
		},
		Message: message,
		Errors:  fieldErrs,
	}
}

func TestMapError_ByStatus(t *testing.T) {
	tests := []struct {
		status int
		msg    string
		kind   apperr.Kind
	}{
		{http.StatusNotFound, "Not Found", apperr.KindNotFound},
		{http.StatusForbidden, "Resource not accessible by integration", apperr.KindForbidden},
		{http.StatusUnauthorized, "Bad credentials", apperr.KindUpstream},
		{http.StatusConflict, "Git Repository is empty.", apperr.KindConflict},
		{http.StatusUnprocessableEntity, "Validation Failed", apperr.KindValidation},
		{http.StatusUnprocessableEntity, "Reference already exists", apperr.KindConflict},
		{http.StatusTooManyRequests, "slow down", apperr.KindRateLimited},
		{http.StatusBadGateway, "Server Error", apperr.KindUpstream},
		{http.StatusServiceUnavailable, "unavailable", apperr.KindUpstream},
	}
	for _, tt := range tests {
		err := mapError("github.Test", errorResponse(tt.status, tt.msg))
		assert.Equal(t, tt.kind, apperr.KindOf(err), "status %d %q", tt.status, tt.msg)
	}
}

func TestMapError_BadCredentialsAreUpstreamButPermanent(t *testing.T) {
	err := mapError("github.ListBranches", errorResponse(http.StatusUnauthorized, "Bad credentials"))
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.False(t, apperr.IsRetryable(err))
	assert.Equal(t, "GitHub rejected the configured credentials", apperr.MessageOf(err))
}

func TestMapError_FieldErrorsCarryMessage(t *testing.T) {
	err := mapError("github.CreateRepository", errorResponse(http.StatusUnprocessableEntity, "Repository creation failed.",
		gh.Error{Resource: "Repository", Field: "name", Code: "custom", Message: MsgNameExists}))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, MsgNameExists, apperr.MessageOf(err))
}

func TestMapError_RetryAfterHeader(t *testing.T) {
	resp := errorResponse(http.StatusTooManyRequests, "slow down")
	resp.Response.Header.Set("Retry-After", "12")
	err := mapError("github.Test", resp)
	assert.Equal(t, 12*time.Second, apperr.RetryAfterOf(err))
}

func TestMapError_AbuseRateLimit(t *testing.T) {
	retryAfter := 45 * time.Second
	err := mapError("github.Test", &gh.AbuseRateLimitError{
		Response:   &http.Response{StatusCode: http.StatusForbidden, Request: httptest.NewRequest(http.MethodGet, "/", nil)},
		RetryAfter: &retryAfter,
	})
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	assert.Equal(t, retryAfter, apperr.RetryAfterOf(err))
}

func TestMapError_TransportAndContext(t *testing.T) {
	assert.NoError(t, mapError("op", nil))
	assert.True(t, apperr.IsRetryable(mapError("op", errors.New("connection reset by peer"))))
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(mapError("op", context.DeadlineExceeded)))

	already := apperr.New(apperr.KindValidation, "op", "bad")
	assert.Same(t, already, mapError("other", already))
}
