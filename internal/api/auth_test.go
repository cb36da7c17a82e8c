package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_JWT_Valid(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/projects", aliceToken(t), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_JWT_Rejected(t *testing.T) {
	env := newTestEnv(t)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "u-alice", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u-alice"}}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"basic scheme", "Basic dGVzdDp0ZXN0"},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", "u-alice", "alice", "manager", time.Hour)},
		{"expired", "Bearer " + signToken(t, testSecret, "u-alice", "alice", "manager", -time.Minute)},
		{"no subject", "Bearer " + signToken(t, testSecret, "", "alice", "manager", time.Hour)},
		{"alg none", "Bearer " + unsigned},
		{"no expiry", "Bearer " + noExp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "/api/v1/projects", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := env.app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var problem Problem
			decode(t, resp, &problem)
			assert.Equal(t, "unauthenticated", problem.Kind)
		})
	}
}

func TestAuth_NoneMode_Headers(t *testing.T) {
	env := newTestEnv(t, withAuthMode(AuthModeNone))

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set(HeaderUserID, "u-alice")
	req.Header.Set(HeaderLogin, "alice")
	req.Header.Set(HeaderRole, "manager")
	resp, err = env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_ProbeEndpoints_NoAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		resp, err := env.app.Test(req, -1)
		require.NoError(t, err, "path: %s", path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "path: %s", path)
	}
}
