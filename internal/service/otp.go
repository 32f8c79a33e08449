package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"chatterbox/internal/mailer"
	"chatterbox/internal/models"
	"chatterbox/internal/validation"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	otpTTL          = 5 * time.Minute
	otpResendGuard  = 60 * time.Second
	otpMaxAttempts  = 5
	resetTicketTTL  = 15 * time.Minute
	otpKeyFormat    = "otp:%s:%s"
	otpGuardFormat  = "otp:guard:%s:%s"
	resetTicketKey  = "reset:ticket:"
	otpFieldHash    = "code_hash"
	otpFieldTries   = "attempts"
	otpFieldUserID  = "user_id"
	otpCodeDigits   = 6
	otpCodeModulus  = 1000000
	otpInvalidField = "code"
)

// OTPRequest is the body of POST /api/auth/otp/request.
type OTPRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Purpose string `json:"purpose" validate:"required,oneof=verify_email reset_password login"`
}

// OTPVerifyInput is the body of POST /api/auth/otp/verify.
type OTPVerifyInput struct {
	Email   string `json:"email" validate:"required,email"`
	Purpose string `json:"purpose" validate:"required,oneof=verify_email reset_password login"`
	Code    string `json:"code" validate:"required,len=6,numeric"`
}

// ResetPasswordInput is the body of POST /api/auth/password/reset.
type ResetPasswordInput struct {
	Ticket   string `json:"ticket" validate:"required"`
	Password string `json:"password" validate:"required,password"`
}

// OTPResult carries what a verified code unlocks.
type OTPResult struct {
	Verified    bool        `json:"verified"`
	ResetTicket string      `json:"reset_ticket,omitempty"`
	Tokens      *AuthTokens `json:"tokens,omitempty"`
}

// RequestOTP stores a hashed code and queues the email. Unknown addresses get
// the same answer but nothing is sent.
func (s *AuthService) RequestOTP(ctx context.Context, email, purpose string) error {
	in := OTPRequest{Email: validation.NormalizeEmail(email), Purpose: purpose}
	if err := validation.Struct(in); err != nil {
		return err
	}
	if s.rdb == nil {
		return models.NewInternalError(errors.New("otp store unavailable"))
	}

	guard := fmt.Sprintf(otpGuardFormat, in.Purpose, in.Email)
	ok, err := s.rdb.SetNX(ctx, guard, "1", otpResendGuard).Result()
	if err != nil {
		return models.NewInternalError(err)
	}
	if !ok {
		return models.NewTooManyRequestsError("A code was sent recently, please wait before requesting another")
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	code, err := generateOTP()
	if err != nil {
		return models.NewInternalError(err)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return models.NewInternalError(err)
	}

	key := fmt.Sprintf(otpKeyFormat, in.Purpose, in.Email)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, otpFieldHash, string(hashed), otpFieldTries, 0, otpFieldUserID, user.ID)
	pipe.Expire(ctx, key, otpTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.NewInternalError(err)
	}

	if err := s.mail.PublishOTP(ctx, mailer.OTPEmail{
		To:        user.Email,
		Username:  user.Username,
		Code:      code,
		Purpose:   in.Purpose,
		ExpiresIn: otpTTL,
	}); err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// VerifyOTP checks a code. Each code allows a bounded number of attempts.
func (s *AuthService) VerifyOTP(ctx context.Context, in OTPVerifyInput) (*OTPResult, error) {
	in.Email = validation.NormalizeEmail(in.Email)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if s.rdb == nil {
		return nil, models.NewInternalError(errors.New("otp store unavailable"))
	}

	key := fmt.Sprintf(otpKeyFormat, in.Purpose, in.Email)
	stored, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(stored) == 0 || stored[otpFieldHash] == "" {
		return nil, models.NewFieldError(otpInvalidField, "Invalid or expired code")
	}

	attempts, err := s.rdb.HIncrBy(ctx, key, otpFieldTries, 1).Result()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if attempts > otpMaxAttempts {
		_ = s.rdb.Del(ctx, key).Err()
		return nil, models.NewTooManyRequestsError("Too many attempts, request a new code")
	}
	if bcrypt.CompareHashAndPassword([]byte(stored[otpFieldHash]), []byte(in.Code)) != nil {
		return nil, models.NewFieldError(otpInvalidField, "Invalid or expired code")
	}
	_ = s.rdb.Del(ctx, key).Err()

	uid, err := strconv.ParseUint(stored[otpFieldUserID], 10, 64)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	user, err := s.users.GetByID(ctx, uint(uid))
	if err != nil {
		return nil, err
	}

	result := &OTPResult{Verified: true}
	switch in.Purpose {
	case mailer.PurposeVerifyEmail:
		if err := s.users.UpdateFields(ctx, user.ID, map[string]interface{}{"email_verified": true}); err != nil {
			return nil, err
		}
	case mailer.PurposeResetPassword:
		ticket, err := s.issueResetTicket(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		result.ResetTicket = ticket
	case mailer.PurposeLogin:
		tokens, err := s.issueTokens(ctx, user, "")
		if err != nil {
			return nil, err
		}
		result.Tokens = tokens
	}
	return result, nil
}

// ResetPassword consumes a reset ticket and signs the user out everywhere.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if s.rdb == nil {
		return models.NewInternalError(errors.New("otp store unavailable"))
	}
	val, err := s.rdb.GetDel(ctx, resetTicketKey+in.Ticket).Result()
	if errors.Is(err, redis.Nil) {
		return models.NewFieldError("ticket", "Invalid or expired reset ticket")
	}
	if err != nil {
		return models.NewInternalError(err)
	}
	uid, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return models.NewInternalError(err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.NewInternalError(err)
	}
	if err := s.users.UpdateFields(ctx, uint(uid), map[string]interface{}{"password": string(hashed)}); err != nil {
		return err
	}
	return s.refresh.RevokeAllForUser(ctx, uint(uid))
}

func (s *AuthService) issueResetTicket(ctx context.Context, userID uint) (string, error) {
	raw, _, err := newRefreshToken()
	if err != nil {
		return "", models.NewInternalError(err)
	}
	if err := s.rdb.Set(ctx, resetTicketKey+raw, userID, resetTicketTTL).Err(); err != nil {
		return "", models.NewInternalError(err)
	}
	return raw, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpCodeModulus))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpCodeDigits, n.Int64()), nil
}
