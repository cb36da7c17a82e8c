package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/github"
)

func TestServer_HealthzEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ReadyzEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, env.ds.Close())
	resp = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/projects", aliceToken(t), nil)

	resp := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `projecthub_http_requests_total{code="200",method="GET",route="/api/v1/projects`)
}

func TestServer_RequestID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, withRateLimit(1, 2))
	tok := aliceToken(t)

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodGet, "/api/v1/projects", tok, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := env.do(t, http.MethodGet, "/api/v1/projects", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	var problem Problem
	decode(t, resp, &problem)
	assert.Equal(t, "rate_limited", problem.Kind)

	// Probes are never limited.
	resp = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiter_Refills(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(RateLimitConfig{RPS: 1, Burst: 1})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"))

	now = now.Add(time.Second)
	assert.True(t, rl.allow("1.2.3.4"))

	now = now.Add(time.Hour)
	rl.allow("9.9.9.9")
	assert.Len(t, rl.clients, 1, "idle buckets are swept")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		code int
	}{
		{apperr.KindValidation, http.StatusBadRequest},
		{apperr.KindAuthorization, http.StatusForbidden},
		{apperr.KindForbidden, http.StatusForbidden},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindConflict, http.StatusConflict},
		{apperr.KindInvalidState, http.StatusConflict},
		{apperr.KindRateLimited, http.StatusTooManyRequests},
		{apperr.KindUpstream, http.StatusBadGateway},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.code, statusFor(tt.kind))
		})
	}
}

func TestErrorMapping_UpstreamRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.gh.err = &apperr.Error{Kind: apperr.KindRateLimited, Op: "github.CreateRepository", Message: "GitHub rate limit exceeded", RetryAfter: 1500 * time.Millisecond}

	resp := env.do(t, http.MethodPost, "/api/v1/projects", aliceToken(t), map[string]any{
		"name": "Alpha", "repoChoice": map[string]any{"mode": "create-new", "name": "alpha-repo"},
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))

	var problem Problem
	decode(t, resp, &problem)
	assert.Equal(t, "rate_limited", problem.Kind)
	assert.Equal(t, 2, problem.RetryAfterSeconds)
}

func TestErrorMapping_RejectedCredentialsAreBadGateway(t *testing.T) {
	code, p := problemFor(&apperr.Error{Kind: apperr.KindUpstream, Op: "github.ListBranches", Message: "GitHub rejected the configured credentials", Permanent: true})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "upstream", p.Kind)
}

func TestErrorMapping_InternalErrorsAreNotLeaked(t *testing.T) {
	code, p := problemFor(io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal", p.Kind)
	assert.NotContains(t, p.Message, "EOF")
}

func TestServer_UnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/nothing", aliceToken(t), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem Problem
	decode(t, resp, &problem)
	assert.Equal(t, "not_found", problem.Kind)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestServer_Webhook(t *testing.T) {
	wh := github.NewWebhookHandler("whsecret", zerolog.Nop())
	env := newTestEnv(t, withWebhook(wh))
	env.svc.RegisterWebhooks(wh)

	resp := env.do(t, http.MethodPost, "/api/v1/projects", aliceToken(t), map[string]any{
		"name": "Alpha", "repoChoice": map[string]any{"mode": "create-new", "name": "alpha-repo"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var p struct{ ID string }
	decode(t, resp, &p)

	payload := []byte(`{"action":"deleted","repository":{"name":"alpha-repo","owner":{"login":"acme"}},"sender":{"login":"alice"}}`)
	req, _ := http.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "repository")
	req.Header.Set("X-Hub-Signature-256", sign("whsecret", payload))
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(payload)))
	req.Header.Set("X-GitHub-Event", "repository")
	req.Header.Set("X-Hub-Signature-256", sign("wrong", payload))
	resp, err = env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/events", aliceToken(t), nil)
	var events struct {
		Events []struct{ EventType string } `json:"events"`
	}
	decode(t, resp, &events)
	require.NotEmpty(t, events.Events)
	assert.Equal(t, "github.repository", events.Events[0].EventType)
}
