package types

import (
	"fmt"
	"time"
)

// OTPTask identifies what a one-time password authorizes.
type OTPTask string

const (
	OTPTaskRegister      OTPTask = "register"
	OTPTaskResetPassword OTPTask = "resetPassword"
)

// ParseOTPTask converts a request value into an OTPTask.
func ParseOTPTask(value string) (OTPTask, error) {
	switch task := OTPTask(value); task {
	case OTPTaskRegister, OTPTaskResetPassword:
		return task, nil
	default:
		return "", fmt.Errorf("unknown otp task %q", value)
	}
}

// OTPVerification is the pending challenge for a (UserID, Task) pair.
// At most one exists per pair. Attempts counts wrong codes submitted
// against it.
type OTPVerification struct {
	ID        string
	UserID    string
	OTPHash   string
	Task      OTPTask
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the challenge is no longer valid at now.
func (o OTPVerification) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
