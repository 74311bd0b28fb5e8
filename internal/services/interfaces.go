package services

import (
	"context"
	"io"

	"github.com/taskhub-app/apiserver/types"
)

// AccountRepository persists accounts. Implementations return
// store.ErrNotFound and store.ErrDuplicate.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (types.Account, error)
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	UpsertUnverified(ctx context.Context, email, passwordHash, fullName string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	MarkVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateStatus(ctx context.Context, id string, status types.Status, verified bool) error
	UpdateAvatar(ctx context.Context, id, avatarURL string) error
}

// OTPRepository persists OTP challenges, at most one per (userID, task).
type OTPRepository interface {
	Replace(ctx context.Context, otp types.OTPVerification) error
	Get(ctx context.Context, userID string, task types.OTPTask) (types.OTPVerification, error)
	IncrementAttempts(ctx context.Context, userID string, task types.OTPTask) (int, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteByUserTask(ctx context.Context, userID string, task types.OTPTask) (int64, error)
}

// RateLimiter throttles login failures, OTP sends and OTP code submissions.
// A nil RateLimiter disables throttling.
type RateLimiter interface {
	CheckLogin(ctx context.Context, email string) error
	FailLogin(ctx context.Context, email string) error
	ResetLogin(ctx context.Context, email string) error
	AllowOTPSend(ctx context.Context, userID, task string) error
	CheckOTPConfirm(ctx context.Context, userID, task string) error
}

// TokenIssuer mints and parses the stateless session tokens.
type TokenIssuer interface {
	CreateAccessToken(accountID string) (string, error)
	CreateRefreshToken(accountID string) (string, error)
	ParseRefreshToken(token string) (string, error)
}

// ObjectStorage stores uploaded media and returns its public URL.
type ObjectStorage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}
