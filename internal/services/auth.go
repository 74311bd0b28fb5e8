package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/taskhub-app/apiserver/config"
	"github.com/taskhub-app/apiserver/internal/ratelimit"
	"github.com/taskhub-app/apiserver/internal/store"
	"github.com/taskhub-app/apiserver/internal/validate"
	"github.com/taskhub-app/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

type RegisterInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	FullName string `json:"fullName"`
}

type PartnerRegisterInput struct {
	Email       string         `json:"email" validate:"required"`
	Password    string         `json:"password" validate:"required"`
	FullName    string         `json:"fullName" validate:"required"`
	PhoneNumber string         `json:"phoneNumber" validate:"required,phone"`
	Description string         `json:"description" validate:"required"`
	PartnerName string         `json:"partnerName" validate:"required"`
	Addresses   []string       `json:"addresses" validate:"required,min=1"`
	Location    []string       `json:"location" validate:"required,min=1"`
	Services    []string       `json:"services"`
	Details     []types.Detail `json:"details"`
}

type ResendOTPInput struct {
	UserID string `json:"userId" validate:"required"`
	Email  string `json:"email" validate:"required"`
	Task   string `json:"task" validate:"required"`
}

type ActivateInput struct {
	UserID string `json:"userId"`
	OTP    string `json:"otp"`
}

type ResetPasswordInput struct {
	UserID   string `json:"userId"`
	OTP      string `json:"otp"`
	Password string `json:"password"`
}

// LoginResult carries the authenticated account and its fresh tokens.
type LoginResult struct {
	Account      types.Account
	AccessToken  string
	RefreshToken string
}

// AuthService drives registration, OTP confirmation, login and password
// reset.
type AuthService struct {
	accounts   AccountRepository
	otps       OTPRepository
	issuer     *OTPIssuer
	tokens     TokenIssuer
	limiter    RateLimiter
	validator  *validate.Validator
	bcryptCost int
	verifyCode bool
	logger     zerolog.Logger
}

func NewAuthService(
	cfg config.Config,
	accounts AccountRepository,
	otps OTPRepository,
	issuer *OTPIssuer,
	tokens TokenIssuer,
	limiter RateLimiter,
	validator *validate.Validator,
	logger zerolog.Logger,
) *AuthService {
	return &AuthService{
		accounts:   accounts,
		otps:       otps,
		issuer:     issuer,
		tokens:     tokens,
		limiter:    limiter,
		validator:  validator,
		bcryptCost: cfg.Auth.BcryptCost,
		verifyCode: cfg.OTP.VerifyCode,
		logger:     logger.With().Str("component", "auth").Logger(),
	}
}

// RegisterWithEmail upserts the unverified account for the email and sends
// a register OTP. Registering again before verification updates the same
// account.
func (s *AuthService) RegisterWithEmail(ctx context.Context, in RegisterInput) (types.Account, error) {
	in.Email = types.NormalizeEmail(in.Email)
	if err := s.check(in); err != nil {
		return types.Account{}, err
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return types.Account{}, err
	}

	account, err := s.accounts.UpsertUnverified(ctx, in.Email, hash, strings.TrimSpace(in.FullName))
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.Account{}, ErrDuplicateAccount
		}
		return types.Account{}, fmt.Errorf("upsert account: %w", err)
	}
	s.logger.Info().Str("account_id", account.ID).Msg("account registered")

	if err := s.issuer.Issue(ctx, account.ID, account.Email, types.OTPTaskRegister); err != nil {
		return account, err
	}
	return account, nil
}

// PartnerRegister creates a partner account awaiting admin review.
func (s *AuthService) PartnerRegister(ctx context.Context, in PartnerRegisterInput) (types.Account, error) {
	in.Email = types.NormalizeEmail(in.Email)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	if err := s.check(in); err != nil {
		return types.Account{}, err
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return types.Account{}, err
	}

	account, err := s.accounts.Create(ctx, types.Account{
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		PhoneNumber:  in.PhoneNumber,
		Role:         types.RolePartner,
		Status:       types.StatusPending,
		PartnerName:  strings.TrimSpace(in.PartnerName),
		Description:  in.Description,
		Services:     in.Services,
		Addresses:    in.Addresses,
		Location:     in.Location,
		Details:      in.Details,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.Account{}, ErrDuplicateAccount
		}
		return types.Account{}, fmt.Errorf("create partner: %w", err)
	}
	s.logger.Info().Str("account_id", account.ID).Msg("partner registered, pending review")
	return account, nil
}

// ActivateAccount marks the account verified and drops all of its OTP
// challenges. With code verification disabled the submitted code is not
// checked and an unknown id succeeds silently.
func (s *AuthService) ActivateAccount(ctx context.Context, in ActivateInput) error {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return ErrMissingFields
	}
	if s.verifyCode {
		if strings.TrimSpace(in.OTP) == "" {
			return ErrMissingFields
		}
		if err := s.issuer.Verify(ctx, userID, types.OTPTaskRegister, strings.TrimSpace(in.OTP)); err != nil {
			return err
		}
	}

	if err := s.accounts.MarkVerified(ctx, userID); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if _, err := s.otps.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("delete otps: %w", err)
	}
	s.logger.Info().Str("account_id", userID).Msg("account verified")
	return nil
}

// ResendOTP replaces the challenge for (userID, task) with a new one.
func (s *AuthService) ResendOTP(ctx context.Context, in ResendOTPInput) error {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Email = types.NormalizeEmail(in.Email)
	if err := s.check(in); err != nil {
		return err
	}
	task, err := types.ParseOTPTask(in.Task)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingFields, err)
	}
	return s.issuer.Issue(ctx, in.UserID, in.Email, task)
}

// LoginWithEmail authenticates an active, verified account and mints its
// tokens.
func (s *AuthService) LoginWithEmail(ctx context.Context, email, password string) (LoginResult, error) {
	email = types.NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrMissingFields
	}

	if s.limiter != nil {
		if err := s.limiter.CheckLogin(ctx, email); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				return LoginResult{}, ErrRateLimited
			}
			s.logger.Warn().Err(err).Msg("login throttle unavailable")
		}
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, ErrUnregisteredAccount
		}
		return LoginResult{}, fmt.Errorf("load account: %w", err)
	}
	if !account.CanLogin() {
		return LoginResult{}, ErrUnregisteredAccount
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		if s.limiter != nil {
			if err := s.limiter.FailLogin(ctx, email); err != nil {
				s.logger.Warn().Err(err).Msg("record login failure")
			}
		}
		s.logger.Info().Str("account_id", account.ID).Msg("login rejected: password mismatch")
		return LoginResult{}, ErrPasswordMismatch
	}
	if s.limiter != nil {
		if err := s.limiter.ResetLogin(ctx, email); err != nil {
			s.logger.Warn().Err(err).Msg("reset login counter")
		}
	}

	access, err := s.tokens.CreateAccessToken(account.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("create access token: %w", err)
	}
	refresh, err := s.tokens.CreateRefreshToken(account.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("create refresh token: %w", err)
	}
	return LoginResult{Account: account, AccessToken: access, RefreshToken: refresh}, nil
}

// SendResetPasswordEmail sends a resetPassword OTP to a verified account
// and returns its id.
func (s *AuthService) SendResetPasswordEmail(ctx context.Context, email string) (string, error) {
	email = types.NormalizeEmail(email)
	if email == "" {
		return "", ErrMissingFields
	}
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUnregisteredAccount
		}
		return "", fmt.Errorf("load account: %w", err)
	}
	if !account.Verified {
		return "", ErrUnregisteredAccount
	}
	if err := s.issuer.Issue(ctx, account.ID, account.Email, types.OTPTaskResetPassword); err != nil {
		return "", err
	}
	return account.ID, nil
}

// ResetPasswordWithOTP stores a new password for the account and drops its
// resetPassword challenge.
func (s *AuthService) ResetPasswordWithOTP(ctx context.Context, in ResetPasswordInput) error {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return ErrMissingFields
	}
	if !s.validator.Password(in.Password) {
		return ErrInvalidPassword
	}
	if s.verifyCode {
		if strings.TrimSpace(in.OTP) == "" {
			return ErrMissingFields
		}
		if err := s.issuer.Verify(ctx, userID, types.OTPTaskResetPassword, strings.TrimSpace(in.OTP)); err != nil {
			return err
		}
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnregisteredAccount
		}
		return fmt.Errorf("update password: %w", err)
	}
	if _, err := s.otps.DeleteByUserTask(ctx, userID, types.OTPTaskResetPassword); err != nil {
		return fmt.Errorf("delete otps: %w", err)
	}
	s.logger.Info().Str("account_id", userID).Msg("password reset")
	return nil
}

// RefreshAccessToken exchanges a refresh token for a new access token.
func (s *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	accountID, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return "", ErrUnauthenticated
	}
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUnauthenticated
		}
		return "", fmt.Errorf("load account: %w", err)
	}
	if !account.CanLogin() {
		return "", ErrUnauthenticated
	}
	access, err := s.tokens.CreateAccessToken(account.ID)
	if err != nil {
		return "", fmt.Errorf("create access token: %w", err)
	}
	return access, nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// check maps validation failures onto the error taxonomy.
func (s *AuthService) check(in any) error {
	failures, err := s.validator.Struct(in)
	if err != nil {
		return fmt.Errorf("validate input: %w", err)
	}
	if len(failures) == 0 {
		return nil
	}
	if validate.HasTag(failures, validate.TagPhone) && !validate.HasTag(failures, validate.TagRequired) {
		return ErrInvalidPhoneNumber
	}
	return ErrMissingFields
}
