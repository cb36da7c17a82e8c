// Package tokenstore caches short-lived credentials, such as GitHub App
// installation tokens, until shortly before they expire.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// Token is a cached credential.
type Token struct {
	Key       string    `json:"key"`
	Value     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExpiredAt reports whether the token is no longer usable at t.
func (t *Token) ExpiredAt(at time.Time) bool {
	return !at.Before(t.ExpiresAt)
}

// Store caches tokens by key.
type Store interface {
	// Set stores value under key for ttl. A non-positive ttl is rejected.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns ErrTokenNotFound or ErrTokenExpired when no usable token exists.
	Get(ctx context.Context, key string) (*Token, error)
	Delete(ctx context.Context, key string) error
	// Cleanup drops expired tokens and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)
}
