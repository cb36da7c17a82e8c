package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := &Error{Kind: KindUpstream, Op: "github.CreateRepository", Message: "server error", StatusCode: 502}
	assert.Contains(t, err.Error(), "github.CreateRepository")
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "server error")
}

func TestError_WithWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := Wrap(KindUpstream, "github.ListBranches", inner, "request failed")
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindNotFound, "project.Get", "project not found"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConflict, KindOf(New(KindConflict, "", "dup")))
	assert.Equal(t, KindRateLimited, KindOf(fmt.Errorf("x: %w", ErrRateLimited)))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindUpstream, "gh", "bad gateway")))
	assert.False(t, IsRetryable(New(KindRateLimited, "gh", "slow down")))
	assert.False(t, IsRetryable(New(KindNotFound, "gh", "missing")))
	assert.False(t, IsRetryable(New(KindValidation, "gh", "bad")))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(&Error{Kind: KindUpstream, Permanent: true}))
	assert.Equal(t, KindUpstream, KindOf(&Error{Kind: KindUpstream, Permanent: true}))
}

func TestRetryAfterOf(t *testing.T) {
	err := &Error{Kind: KindRateLimited, RetryAfter: 30 * time.Second}
	assert.Equal(t, 30*time.Second, RetryAfterOf(fmt.Errorf("wrap: %w", err)))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "name already exists on this account", MessageOf(New(KindConflict, "op", "name already exists on this account")))
	assert.Equal(t, "an internal error occurred", MessageOf(errors.New("db exploded")))
}
