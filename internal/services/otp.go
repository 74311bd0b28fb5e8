package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/taskhub-app/apiserver/config"
	"github.com/taskhub-app/apiserver/internal/mailer"
	"github.com/taskhub-app/apiserver/internal/ratelimit"
	"github.com/taskhub-app/apiserver/internal/store"
	"github.com/taskhub-app/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	otpMin = 1000
	otpMax = 9999
)

// OTPIssuer creates, delivers and checks one-time passwords.
type OTPIssuer struct {
	repo     OTPRepository
	sender   mailer.Sender
	limiter  RateLimiter
	ttl         time.Duration
	cost        int
	maxAttempts int
	logger   zerolog.Logger
	now      func() time.Time
	generate func() (string, error)
}

func NewOTPIssuer(cfg config.Config, repo OTPRepository, sender mailer.Sender, limiter RateLimiter, logger zerolog.Logger) *OTPIssuer {
	return &OTPIssuer{
		repo:     repo,
		sender:   sender,
		limiter:  limiter,
		ttl:         cfg.OTP.TTL,
		cost:        cfg.Auth.BcryptCost,
		maxAttempts: cfg.OTP.MaxAttempts,
		logger:   logger.With().Str("component", "otp").Logger(),
		now:      time.Now,
		generate: generateCode,
	}
}

// Issue stores a fresh challenge for (userID, task), replacing any earlier
// one, and emails the plaintext code. A delivery failure is returned after
// the challenge has been stored.
func (o *OTPIssuer) Issue(ctx context.Context, userID, email string, task types.OTPTask) error {
	if o.limiter != nil {
		if err := o.limiter.AllowOTPSend(ctx, userID, string(task)); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				return ErrRateLimited
			}
			o.logger.Warn().Err(err).Msg("otp send throttle unavailable")
		}
	}

	code, err := o.generate()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), o.cost)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}

	now := o.now()
	otp := types.OTPVerification{
		UserID:    userID,
		OTPHash:   string(hash),
		Task:      task,
		CreatedAt: now,
		ExpiresAt: now.Add(o.ttl),
	}
	if err := o.repo.Replace(ctx, otp); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	if err := o.sender.SendOTPEmail(ctx, email, code, task); err != nil {
		o.logger.Error().Err(err).Str("user_id", userID).Str("task", string(task)).Msg("otp delivery failed")
		return fmt.Errorf("send otp email: %w", err)
	}
	o.logger.Info().Str("user_id", userID).Str("task", string(task)).Msg("otp issued")
	return nil
}

// Verify checks code against the stored challenge for (userID, task).
// After maxAttempts wrong codes the challenge is deleted and only a resend
// can replace it.
func (o *OTPIssuer) Verify(ctx context.Context, userID string, task types.OTPTask, code string) error {
	if o.limiter != nil {
		if err := o.limiter.CheckOTPConfirm(ctx, userID, string(task)); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				return ErrRateLimited
			}
			o.logger.Warn().Err(err).Msg("otp confirm throttle unavailable")
		}
	}

	otp, err := o.repo.Get(ctx, userID, task)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidOTP
		}
		return fmt.Errorf("load otp: %w", err)
	}
	if otp.Expired(o.now()) {
		return ErrOTPExpired
	}
	if o.maxAttempts > 0 && otp.Attempts >= o.maxAttempts {
		return ErrInvalidOTP
	}
	if err := bcrypt.CompareHashAndPassword([]byte(otp.OTPHash), []byte(code)); err != nil {
		return o.recordFailure(ctx, userID, task)
	}
	return nil
}

func (o *OTPIssuer) recordFailure(ctx context.Context, userID string, task types.OTPTask) error {
	attempts, err := o.repo.IncrementAttempts(ctx, userID, task)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidOTP
		}
		return fmt.Errorf("record otp attempt: %w", err)
	}
	if o.maxAttempts > 0 && attempts >= o.maxAttempts {
		if _, err := o.repo.DeleteByUserTask(ctx, userID, task); err != nil {
			return fmt.Errorf("delete exhausted otp: %w", err)
		}
		o.logger.Warn().Str("user_id", userID).Str("task", string(task)).Msg("otp invalidated after too many wrong codes")
	}
	return ErrInvalidOTP
}

// generateCode draws a 4-digit code uniformly from [otpMin, otpMax].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+otpMin, 10), nil
}
