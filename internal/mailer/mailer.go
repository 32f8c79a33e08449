// Package mailer delivers one-time-password emails through RabbitMQ.
package mailer

import (
	"context"
	"time"
)

// OTP purposes.
const (
	PurposeVerifyEmail   = "verify_email"
	PurposeResetPassword = "reset_password"
	PurposeLogin         = "login"
)

// Topology names.
const (
	Exchange       = "mail"
	DeadExchange   = "mail.dlx"
	DefaultQueue   = "mail.otp"
	deadLetterSufx = ".dead"
)

// OTPEmail is the job published for every code sent.
type OTPEmail struct {
	To        string        `json:"to"`
	Username  string        `json:"username"`
	Code      string        `json:"code"`
	Purpose   string        `json:"purpose"`
	ExpiresIn time.Duration `json:"expires_in"`
}

// Queue accepts OTP email jobs.
type Queue interface {
	PublishOTP(ctx context.Context, msg OTPEmail) error
	Close() error
}

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}
