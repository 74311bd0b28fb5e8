package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, cfg), mr
}

func TestLoginBudget(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newTestLimiter(t, Config{MaxLoginAttempts: 3, LoginCooldown: time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.CheckLogin(ctx, "ann@example.com"))
		require.NoError(t, limiter.FailLogin(ctx, "ann@example.com"))
	}
	require.ErrorIs(t, limiter.CheckLogin(ctx, "ann@example.com"), ErrRateLimited)
	require.NoError(t, limiter.CheckLogin(ctx, "bob@example.com"))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, limiter.CheckLogin(ctx, "ann@example.com"))
}

func TestResetLogin(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{MaxLoginAttempts: 1, LoginCooldown: time.Minute})

	require.NoError(t, limiter.FailLogin(ctx, "ann@example.com"))
	require.ErrorIs(t, limiter.CheckLogin(ctx, "ann@example.com"), ErrRateLimited)

	require.NoError(t, limiter.ResetLogin(ctx, "ann@example.com"))
	require.NoError(t, limiter.CheckLogin(ctx, "ann@example.com"))
}

func TestCheckOTPConfirm(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newTestLimiter(t, Config{MaxOTPConfirms: 3, OTPSendWindow: time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.CheckOTPConfirm(ctx, "u1", "register"))
	}
	require.ErrorIs(t, limiter.CheckOTPConfirm(ctx, "u1", "register"), ErrRateLimited)
	require.NoError(t, limiter.CheckOTPConfirm(ctx, "u1", "resetPassword"))
	require.NoError(t, limiter.AllowOTPSend(ctx, "u1", "register"))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, limiter.CheckOTPConfirm(ctx, "u1", "register"))
}

func TestCheckOTPConfirmDisabled(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{})
	for i := 0; i < 20; i++ {
		require.NoError(t, limiter.CheckOTPConfirm(context.Background(), "u1", "register"))
	}
}

func TestAllowOTPSend(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newTestLimiter(t, Config{MaxOTPSends: 2, OTPSendWindow: time.Minute})

	require.NoError(t, limiter.AllowOTPSend(ctx, "u1", "register"))
	require.NoError(t, limiter.AllowOTPSend(ctx, "u1", "register"))
	require.ErrorIs(t, limiter.AllowOTPSend(ctx, "u1", "register"), ErrRateLimited)
	require.NoError(t, limiter.AllowOTPSend(ctx, "u1", "resetPassword"))

	ttl := mr.TTL(otpKey("u1", "register"))
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestDisabledBudgets(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{})

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.AllowOTPSend(ctx, "u1", "register"))
		require.NoError(t, limiter.FailLogin(ctx, "ann@example.com"))
	}
	require.NoError(t, limiter.CheckLogin(ctx, "ann@example.com"))
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	defer rdb.Close()
	limiter := New(rdb, Config{MaxLoginAttempts: 1, MaxOTPSends: 1, OTPSendWindow: time.Minute})

	require.ErrorIs(t, limiter.CheckLogin(ctx, "ann@example.com"), ErrRedisUnavailable)
	require.ErrorIs(t, limiter.AllowOTPSend(ctx, "u1", "register"), ErrRedisUnavailable)
}
