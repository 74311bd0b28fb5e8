package services

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/taskhub-app/apiserver/config"
	"github.com/taskhub-app/apiserver/internal/store/memstore"
	"github.com/taskhub-app/apiserver/internal/token"
	"github.com/taskhub-app/apiserver/internal/validate"
	"github.com/taskhub-app/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

func otpCount(repo *memstore.OTPRepository, userID string, task types.OTPTask) int {
	if _, err := repo.Get(context.Background(), userID, task); err != nil {
		return 0
	}
	return 1
}

type otpKey struct {
	email string
	task  types.OTPTask
}

type captureSender struct {
	mu    sync.Mutex
	codes map[otpKey]string
	sent  int
	err   error
}

func newCaptureSender() *captureSender {
	return &captureSender{codes: map[otpKey]string{}}
}

func (c *captureSender) SendOTPEmail(_ context.Context, to, code string, task types.OTPTask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent++
	c.codes[otpKey{to, task}] = code
	return nil
}

func (c *captureSender) code(email string, task types.OTPTask) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[otpKey{email, task}]
}

const testMaxAttempts = 5

type stubLimiter struct {
	loginErr   error
	otpErr     error
	confirmErr error
	failed     int
	resets     int
}

func (s *stubLimiter) CheckLogin(context.Context, string) error { return s.loginErr }

func (s *stubLimiter) FailLogin(context.Context, string) error {
	s.failed++
	return nil
}

func (s *stubLimiter) ResetLogin(context.Context, string) error {
	s.resets++
	return nil
}

func (s *stubLimiter) AllowOTPSend(context.Context, string, string) error { return s.otpErr }

func (s *stubLimiter) CheckOTPConfirm(context.Context, string, string) error { return s.confirmErr }

type memStorage struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memStorage) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[key] = data
	m.types[key] = contentType
	return "https://cdn.test/" + key, nil
}

type harness struct {
	cfg      config.Config
	accounts *memstore.AccountRepository
	otps     *memstore.OTPRepository
	sender   *captureSender
	tokens   *token.Issuer
	issuer   *OTPIssuer
	auth     *AuthService
}

func testConfig(verifyCode bool) config.Config {
	return config.Config{
		Auth: config.AuthConfig{
			AccessSecret:      "access-secret",
			RefreshSecret:     "refresh-secret",
			AccessTTL:         15 * time.Minute,
			RefreshTTL:        7 * 24 * time.Hour,
			RefreshCookieName: "refreshtoken",
			RefreshCookiePath: "/account/refresh_token",
			BcryptCost:        bcrypt.MinCost,
		},
		OTP: config.OTPConfig{TTL: 5 * time.Minute, VerifyCode: verifyCode, MaxAttempts: testMaxAttempts},
		Policy: config.PolicyConfig{
			PasswordMinLength: 8,
			PhonePattern:      `^(\+?84|0)[35789][0-9]{8}$`,
		},
	}
}

func newHarness(t *testing.T, verifyCode bool, limiter RateLimiter) *harness {
	t.Helper()
	cfg := testConfig(verifyCode)
	v, err := validate.New(cfg.Policy)
	require.NoError(t, err)

	h := &harness{
		cfg:      cfg,
		accounts: memstore.NewAccountRepository(),
		otps:     memstore.NewOTPRepository(),
		sender:   newCaptureSender(),
		tokens:   token.NewIssuer(cfg.Auth),
	}
	h.issuer = NewOTPIssuer(cfg, h.otps, h.sender, limiter, zerolog.Nop())
	h.auth = NewAuthService(cfg, h.accounts, h.otps, h.issuer, h.tokens, limiter, v, zerolog.Nop())
	return h
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

// pngBytes is enough of a PNG header for content sniffing.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
