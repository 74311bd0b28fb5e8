package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhub-app/apiserver/config"
)

func memoryConfig() config.Config {
	return config.Config{
		ServerPort: 0,
		Database:   config.DatabaseConfig{Driver: config.DriverMemory},
		Auth: config.AuthConfig{
			AccessSecret:      "access",
			RefreshSecret:     "refresh",
			AccessTTL:         time.Minute,
			RefreshTTL:        time.Hour,
			RefreshCookieName: "refreshtoken",
			RefreshCookiePath: "/account/refresh_token",
			BcryptCost:        4,
		},
		OTP:    config.OTPConfig{TTL: 5 * time.Minute, VerifyCode: true, MaxAttempts: 5},
		Policy: config.PolicyConfig{PasswordMinLength: 8, PhonePattern: `^0[0-9]{9}$`},
		Mail:   config.MailConfig{Transport: config.MailTransportSMTP, SMTP: config.SMTPConfig{Host: "localhost", Port: 2525}},
	}
}

func TestNewWithMemoryStore(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewWithRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Auth.LoginMaxAttempts = 1
	cfg.Auth.LoginCooldown = time.Minute

	srv, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	login := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/account/login", strings.NewReader(`{"email":"a@x.com","password":"nope"}`))
		srv.Router().ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusBadRequest, login())

	// Unknown accounts do not count as failed attempts; seed the counter directly.
	require.NoError(t, mr.Set("taskhub:rl:login:a@x.com", "1"))
	assert.Equal(t, http.StatusTooManyRequests, login())

	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.Driver = "sqlite"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unsupported database driver")
}

func TestNewFailsOnUnknownQueueBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mail.Transport = config.MailTransportQueue
	cfg.MQ.Backend = "kafka"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unsupported mq backend")
}

func TestAllowOrigin(t *testing.T) {
	handler := allowOrigin("https://app.taskhub.local")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/account/login", nil)
	req.Header.Set("Origin", "https://app.taskhub.local")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.taskhub.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
