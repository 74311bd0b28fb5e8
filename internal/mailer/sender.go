// Package mailer delivers OTP emails, either directly over SMTP or through a
// message queue drained by a worker.
package mailer

import (
	"context"
	"fmt"

	"github.com/taskhub-app/apiserver/types"
)

// Sender dispatches a one-time password to an email address.
type Sender interface {
	SendOTPEmail(ctx context.Context, to, code string, task types.OTPTask) error
}

// OTPEmailJob is the queued form of an OTP email.
type OTPEmailJob struct {
	To   string        `json:"to"`
	Code string        `json:"code"`
	Task types.OTPTask `json:"task"`
}

// ComposeOTPEmail returns the subject and plain-text body for task.
func ComposeOTPEmail(code string, task types.OTPTask) (string, string) {
	var subject, action string
	switch task {
	case types.OTPTaskResetPassword:
		subject = "Reset your TaskHub password"
		action = "reset your password"
	default:
		subject = "Verify your TaskHub account"
		action = "activate your account"
	}
	body := fmt.Sprintf(
		"Your verification code is: %s\n\nUse it to %s. The code is valid for a few minutes.\nIf you did not request this, you can ignore this email.",
		code, action,
	)
	return subject, body
}
