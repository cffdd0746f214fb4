package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"postboard/internal/auth"
	"postboard/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterThenLogin(t *testing.T) {
	ts := newTestServer(t)
	tokens := auth.NewJWTService(testSecret, 0)

	registered := ts.register(t, "alice@example.com", "alice")
	assert.Equal(t, uint(1), registered.User.ID)
	assert.Equal(t, "alice", registered.User.Username)

	claims, ok := tokens.Verify(registered.Token)
	require.True(t, ok)
	assert.Equal(t, registered.User.ID, claims.ID)

	for _, identifier := range []string{"alice", "alice@example.com"} {
		t.Run("login with "+identifier, func(t *testing.T) {
			resp, raw := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
				"identifier": identifier, "password": "password123",
			}, "")
			require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

			var out models.AuthResponse
			require.NoError(t, json.Unmarshal(raw, &out))
			claims, ok := tokens.Verify(out.Token)
			require.True(t, ok)
			assert.Equal(t, registered.User.ID, claims.ID)
		})
	}
}

func TestRegisterThenLogin_LongPassword(t *testing.T) {
	ts := newTestServer(t)
	password := strings.Repeat("x", 80)

	resp, raw := ts.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email": "long@example.com", "username": "longpass", "password": password,
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	resp, raw = ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"identifier": "longpass", "password": password,
	}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
}

func TestRegister_ResponseNeverContainsPassword(t *testing.T) {
	ts := newTestServer(t)

	resp, raw := ts.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email": "a@example.com", "username": "alice", "password": "password123",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotContains(t, string(raw), "password")
	assert.NotContains(t, string(raw), "$2a$")
}

func TestRegister_Failures(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice@example.com", "alice")

	tests := []struct {
		name    string
		body    map[string]string
		status  int
		message string
	}{
		{"Missing username", map[string]string{"email": "b@example.com", "password": "password123"},
			http.StatusBadRequest, "Missing fields"},
		{"Empty body", map[string]string{}, http.StatusBadRequest, "Missing fields"},
		{"Seven character password", map[string]string{"email": "b@example.com", "username": "bob", "password": "passwor"},
			http.StatusBadRequest, "Password must be at least 8 characters and contain no spaces"},
		{"Password with space", map[string]string{"email": "b@example.com", "username": "bob", "password": "pass word123"},
			http.StatusBadRequest, "Password must be at least 8 characters and contain no spaces"},
		{"Same email different username", map[string]string{"email": "alice@example.com", "username": "bob", "password": "password123"},
			http.StatusConflict, "Email or username already exists"},
		{"Same username different email", map[string]string{"email": "b@example.com", "username": "alice", "password": "password123"},
			http.StatusConflict, "Email or username already exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := ts.do(t, http.MethodPost, "/auth/register", tt.body, "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.message, errorBody(t, raw).Error)
		})
	}

	// Only the first registration persisted.
	u, err := ts.store.FindUserByIdentifier(context.Background(), "bob")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestRegister_MalformedJSON(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.App().Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin_Failures(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice@example.com", "alice")

	_, wrongPassword := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"identifier": "alice", "password": "password999",
	}, "")
	resp, unknownUser := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"identifier": "nobody", "password": "password123",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials", errorBody(t, unknownUser).Error)
	assert.JSONEq(t, string(wrongPassword), string(unknownUser))

	resp, raw := ts.do(t, http.MethodPost, "/auth/login", map[string]string{"identifier": "alice"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing fields", errorBody(t, raw).Error)
}

func TestLogin_RateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cfg := testConfig()
	cfg.Env = "production"
	ts := newTestServerWithConfig(t, cfg, redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	body := map[string]string{"identifier": "nobody", "password": "password123"}
	for i := 0; i < 10; i++ {
		resp, _ := ts.do(t, http.MethodPost, "/auth/login", body, "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, _ := ts.do(t, http.MethodPost, "/auth/login", body, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	mr.FastForward(5*time.Minute + time.Second)
	resp, _ = ts.do(t, http.MethodPost, "/auth/login", body, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_NotRateLimitedOutsideProduction(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	t.Setenv("APP_ENV", "production")
	ts := newTestServerWithRedis(t, redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	body := map[string]string{"identifier": "nobody", "password": "password123"}
	for i := 0; i < 12; i++ {
		resp, _ := ts.do(t, http.MethodPost, "/auth/login", body, "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}
