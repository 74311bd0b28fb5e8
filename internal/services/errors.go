package services

import (
	"errors"

	"github.com/taskhub-app/apiserver/internal/ratelimit"
)

// Business-rule failures. Handlers map these to 4xx responses; any other
// error is an internal failure.
var (
	ErrMissingFields       = errors.New("missing required fields")
	ErrInvalidPhoneNumber  = errors.New("invalid phone number")
	ErrInvalidPassword     = errors.New("password does not meet the policy")
	ErrDuplicateAccount    = errors.New("account already registered")
	ErrUnregisteredAccount = errors.New("account not registered")
	ErrPasswordMismatch    = errors.New("password does not match")
	ErrInvalidOTP          = errors.New("invalid otp")
	ErrOTPExpired          = errors.New("otp expired")
	ErrInvalidAvatar       = errors.New("unsupported avatar image")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("forbidden")
	ErrStorageDisabled     = errors.New("object storage is not configured")
	ErrRateLimited         = ratelimit.ErrRateLimited
)
