// Package ratelimit throttles login failures, OTP sends and OTP code
// submissions with fixed-window counters in Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taskhub-app/apiserver/config"
)

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const keyPrefix = "taskhub:rl"

type Config struct {
	MaxLoginAttempts int
	LoginCooldown    time.Duration
	MaxOTPSends      int
	OTPSendWindow    time.Duration
	MaxOTPConfirms   int
}

// ConfigFrom derives limiter settings from the application config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		MaxLoginAttempts: cfg.Auth.LoginMaxAttempts,
		LoginCooldown:    cfg.Auth.LoginCooldown,
		MaxOTPSends:      cfg.OTP.MaxSends,
		OTPSendWindow:    cfg.OTP.SendWindow,
		MaxOTPConfirms:   cfg.OTP.MaxConfirms,
	}
}

type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin returns ErrRateLimited once the email has used up its failed
// login budget for the current window.
func (l *Limiter) CheckLogin(ctx context.Context, email string) error {
	if l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	count, err := l.redis.Get(ctx, loginKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}
	return nil
}

// FailLogin records a failed login for email.
func (l *Limiter) FailLogin(ctx context.Context, email string) error {
	_, err := l.incrementWithTTL(ctx, loginKey(email), l.config.LoginCooldown)
	return err
}

// ResetLogin clears the failed login counter after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, email string) error {
	if err := l.redis.Del(ctx, loginKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AllowOTPSend counts an OTP dispatch for (userID, task) and rejects it when
// the window budget is exceeded.
func (l *Limiter) AllowOTPSend(ctx context.Context, userID, task string) error {
	if l.config.MaxOTPSends <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, otpKey(userID, task), l.config.OTPSendWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxOTPSends) {
		return ErrRateLimited
	}
	return nil
}

// CheckOTPConfirm counts a code submission for (userID, task). The window
// outlives resends, so replacing the challenge does not restore the budget.
func (l *Limiter) CheckOTPConfirm(ctx context.Context, userID, task string) error {
	if l.config.MaxOTPConfirms <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, otpConfirmKey(userID, task), l.config.OTPSendWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxOTPConfirms) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set by the first hit only.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

func loginKey(email string) string {
	return keyPrefix + ":login:" + email
}

func otpKey(userID, task string) string {
	return keyPrefix + ":otp:" + userID + ":" + task
}

func otpConfirmKey(userID, task string) string {
	return keyPrefix + ":otp-confirm:" + userID + ":" + task
}
