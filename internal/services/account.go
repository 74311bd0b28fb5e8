package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/taskhub-app/apiserver/internal/store"
	"github.com/taskhub-app/apiserver/types"
)

// MaxAvatarBytes bounds avatar uploads.
const MaxAvatarBytes = 5 << 20

var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// AccountService serves profile reads, admin review and avatar uploads.
type AccountService struct {
	accounts AccountRepository
	storage  ObjectStorage
	logger   zerolog.Logger
}

// NewAccountService builds the service. storage may be nil, in which case
// UploadAvatar returns ErrStorageDisabled.
func NewAccountService(accounts AccountRepository, storage ObjectStorage, logger zerolog.Logger) *AccountService {
	return &AccountService{
		accounts: accounts,
		storage:  storage,
		logger:   logger.With().Str("component", "account").Logger(),
	}
}

func (s *AccountService) Me(ctx context.Context, accountID string) (types.Account, error) {
	return s.load(ctx, accountID)
}

// ReviewAccount sets the status of accountID. Only actors holding
// CapReviewAccounts may call it; activating an account also verifies it.
func (s *AccountService) ReviewAccount(ctx context.Context, actorID, accountID string, status types.Status) (types.Account, error) {
	actor, err := s.load(ctx, actorID)
	if err != nil {
		return types.Account{}, err
	}
	if !actor.Role.Can(types.CapReviewAccounts) {
		return types.Account{}, ErrForbidden
	}

	target, err := s.load(ctx, accountID)
	if err != nil {
		return types.Account{}, err
	}
	verified := target.Verified || status == types.StatusActive
	if err := s.accounts.UpdateStatus(ctx, target.ID, status, verified); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, ErrUnregisteredAccount
		}
		return types.Account{}, fmt.Errorf("update status: %w", err)
	}
	target.Status = status
	target.Verified = verified
	s.logger.Info().
		Str("actor_id", actor.ID).
		Str("account_id", target.ID).
		Str("status", string(status)).
		Msg("account reviewed")
	return target, nil
}

// UploadAvatar stores an image and points the account avatar at it.
func (s *AccountService) UploadAvatar(ctx context.Context, accountID string, data []byte) (types.Account, error) {
	if s.storage == nil {
		return types.Account{}, ErrStorageDisabled
	}
	if len(data) == 0 || len(data) > MaxAvatarBytes {
		return types.Account{}, ErrInvalidAvatar
	}
	contentType := http.DetectContentType(data)
	ext, ok := avatarExtensions[contentType]
	if !ok {
		return types.Account{}, ErrInvalidAvatar
	}

	account, err := s.load(ctx, accountID)
	if err != nil {
		return types.Account{}, err
	}
	if !account.Role.Can(types.CapManageProfile) {
		return types.Account{}, ErrForbidden
	}

	key := fmt.Sprintf("avatars/%s/%s%s", account.ID, uuid.NewString(), ext)
	url, err := s.storage.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return types.Account{}, fmt.Errorf("upload avatar: %w", err)
	}
	if err := s.accounts.UpdateAvatar(ctx, account.ID, url); err != nil {
		return types.Account{}, fmt.Errorf("update avatar: %w", err)
	}
	account.Avatar = url
	return account, nil
}

func (s *AccountService) load(ctx context.Context, accountID string) (types.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, ErrUnregisteredAccount
		}
		return types.Account{}, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}
