package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/mailer"
)

// resetTokenBytes is the entropy of a reset token before hex encoding.
const resetTokenBytes = 32

// PasswordResetService runs the forgot/reset flow with random single-use
// tokens whose digest and expiry live on the account row.
type PasswordResetService struct {
	Deps
	ttl     time.Duration
	uniform bool
}

// NewPasswordResetService builds the flow. With uniformResponse set,
// ForgotPassword answers unknown emails with success and does nothing.
func NewPasswordResetService(deps Deps, ttl time.Duration, uniformResponse bool) *PasswordResetService {
	return &PasswordResetService{Deps: deps.withDefaults("password_reset"), ttl: ttl, uniform: uniformResponse}
}

// ForgotPassword stores a fresh reset token for email and mails the link.
// A previous pending token is replaced.
func (s *PasswordResetService) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { s.Metrics.AuthOp("forgot_password", err) }()

	account, err := s.Repos.Accounts().GetByEmail(ctx, common.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			if s.uniform {
				return nil
			}
			return err
		}
		return s.internal(ctx, "forgot password", err)
	}

	token, err := common.MakeRandHexString(resetTokenBytes)
	if err != nil {
		return s.internal(ctx, "forgot password", err)
	}

	now := s.Clock.Now()
	if err := s.Repos.Accounts().SetResetToken(ctx, account.ID, auth.Digest(token), now.Add(s.ttl), now); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			if s.uniform {
				return nil
			}
			return err
		}
		return s.internal(ctx, "forgot password", err)
	}

	s.Logger.Info(ctx, "password reset requested", "account_id", account.ID)
	s.send(ctx, mailer.PasswordResetMessage(account.Email, account.Name,
		s.link("/auth/reset-password", token), s.ttl))
	return nil
}

// ResetPassword sets a new password if token is pending and unexpired. The
// hash, the cleared reset fields and the revoked refresh token are written
// in one statement, so a token can be consumed at most once.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	defer func() { s.Metrics.AuthOp("reset_password", err) }()

	if token == "" {
		return common.ErrInvalidOrExpiredToken
	}
	digest := auth.Digest(token)

	if _, err := s.Repos.Accounts().GetByResetToken(ctx, digest, s.Clock.Now()); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidOrExpiredToken
		}
		return s.internal(ctx, "reset password", err)
	}

	hash, err := s.Hasher.Hash(ctx, newPassword)
	if err != nil {
		return s.internal(ctx, "reset password", err)
	}

	// expiry is checked again against the time of the write
	account, err := s.Repos.Accounts().ConsumeResetToken(ctx, digest, hash, s.Clock.Now())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidOrExpiredToken
		}
		return s.internal(ctx, "reset password", err)
	}

	s.Logger.Info(ctx, "password reset", "account_id", account.ID)
	s.send(ctx, mailer.PasswordChangedMessage(account.Email, account.Name))
	return nil
}
