package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/accounts"
)

// Session is the result of a successful login or refresh. RefreshToken is
// meant for the cookie channel only.
type Session struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	Profile               *models.Profile
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// ProfileUpdate carries the fields to change; nil leaves a field as is.
type ProfileUpdate struct {
	Name  *string
	Email *string
}

// AccountService drives the account lifecycle (pending verification,
// verified) and the session lifecycle (login, refresh rotation, logout).
type AccountService struct {
	Deps
}

func NewAccountService(deps Deps) *AccountService {
	return &AccountService{Deps: deps.withDefaults("accounts")}
}

func (s *AccountService) repo() accounts.Repository {
	return s.Repos.Accounts()
}

// Register creates an unverified account and mails a verification link.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (p *models.Profile, err error) {
	defer func() { s.Metrics.AuthOp("register", err) }()

	email := common.NormalizeEmail(in.Email)

	if _, err := s.repo().GetByEmail(ctx, email); err == nil {
		return nil, common.ErrDuplicateEmail
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, s.internal(ctx, "register", err)
	}

	hash, err := s.Hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, s.internal(ctx, "register", err)
	}

	token, _, err := s.Issuer.Issue(auth.FamilyVerification, email)
	if err != nil {
		return nil, s.internal(ctx, "register", err)
	}
	digest := auth.Digest(token)

	now := s.Clock.Now()
	account, err := s.repo().Create(ctx, &models.Account{
		Email:             email,
		Name:              in.Name,
		PasswordHash:      hash,
		Role:              models.RoleUser,
		VerificationToken: &digest,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, s.internal(ctx, "register", err)
	}

	s.Logger.Info(ctx, "account registered", "account_id", account.ID)
	s.send(ctx, mailer.VerificationMessage(account.Email, account.Name,
		s.link("/auth/verify-email", token), s.Issuer.TTL(auth.FamilyVerification)))

	return account.Profile(), nil
}

// VerifyEmail accepts only the most recently issued verification token of
// an unverified account. Every other case, including a replay after
// success, is common.ErrInvalidOrExpiredToken and changes nothing.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (p *models.Profile, err error) {
	defer func() { s.Metrics.AuthOp("verify_email", err) }()

	claims, err := s.Issuer.Verify(auth.FamilyVerification, token)
	if err != nil {
		return nil, err
	}

	account, err := s.repo().GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidOrExpiredToken
		}
		return nil, s.internal(ctx, "verify email", err)
	}

	digest := auth.Digest(token)
	if account.IsVerified || account.VerificationToken == nil || *account.VerificationToken != digest {
		return nil, common.ErrInvalidOrExpiredToken
	}

	verified, err := s.repo().MarkVerified(ctx, account.ID, digest, s.Clock.Now())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidOrExpiredToken
		}
		return nil, s.internal(ctx, "verify email", err)
	}

	s.Logger.Info(ctx, "email verified", "account_id", verified.ID)
	s.send(ctx, mailer.VerifiedMessage(verified.Email, verified.Name))

	return verified.Profile(), nil
}

// ResendVerification issues a new verification token. The stored digest
// is overwritten, so earlier links stop working at once.
func (s *AccountService) ResendVerification(ctx context.Context, email string) (err error) {
	defer func() { s.Metrics.AuthOp("resend_verification", err) }()

	account, err := s.repo().GetByEmail(ctx, common.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return err
		}
		return s.internal(ctx, "resend verification", err)
	}
	if account.IsVerified {
		return common.ErrAlreadyVerified
	}

	token, _, err := s.Issuer.Issue(auth.FamilyVerification, account.Email)
	if err != nil {
		return s.internal(ctx, "resend verification", err)
	}

	if err := s.repo().SetVerificationToken(ctx, account.ID, auth.Digest(token), s.Clock.Now()); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// verified or deleted since the read
			return common.ErrAlreadyVerified
		}
		return s.internal(ctx, "resend verification", err)
	}

	s.send(ctx, mailer.VerificationMessage(account.Email, account.Name,
		s.link("/auth/verify-email", token), s.Issuer.TTL(auth.FamilyVerification)))
	return nil
}

// Login checks credentials and starts a session. A missing account, a
// wrong password and an unknown email are indistinguishable; the
// unverified state is only reported once the password has matched.
func (s *AccountService) Login(ctx context.Context, email, password string) (sess *Session, err error) {
	defer func() { s.Metrics.AuthOp("login", err) }()

	account, err := s.repo().GetByEmail(ctx, common.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.Hasher.CompareDummy(ctx, password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, s.internal(ctx, "login", err)
	}

	ok, err := s.Hasher.Compare(ctx, account.PasswordHash, password)
	if err != nil {
		return nil, s.internal(ctx, "login", err)
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}
	if !account.IsVerified {
		return nil, common.ErrUnverified
	}

	sess, err = s.startSession(ctx, account, func(next string, now time.Time) error {
		return s.repo().SetRefreshToken(ctx, account.ID, next, now)
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, s.internal(ctx, "login", err)
	}

	s.Logger.Info(ctx, "login", "account_id", account.ID)
	return sess, nil
}

// Refresh rotates the session. The presented token must be the one stored
// for the account; the replacement is installed with a compare-and-set so
// that of two concurrent calls with the same token exactly one wins.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (sess *Session, err error) {
	defer func() { s.Metrics.AuthOp("refresh", err) }()

	if refreshToken == "" {
		return nil, common.ErrMissingToken
	}

	claims, err := s.Issuer.Verify(auth.FamilyRefresh, refreshToken)
	if err != nil {
		return nil, err
	}

	account, err := s.repo().GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidOrExpiredToken
		}
		return nil, s.internal(ctx, "refresh", err)
	}

	presented := auth.Digest(refreshToken)
	if account.ActiveRefreshToken == nil || *account.ActiveRefreshToken != presented {
		s.Logger.Warn(ctx, "stale refresh token presented", "account_id", account.ID)
		return nil, common.ErrInvalidOrExpiredToken
	}

	sess, err = s.startSession(ctx, account, func(next string, now time.Time) error {
		return s.repo().SwapRefreshToken(ctx, account.ID, presented, next, now)
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.Logger.Warn(ctx, "refresh rotation lost a race", "account_id", account.ID)
			return nil, common.ErrInvalidOrExpiredToken
		}
		return nil, s.internal(ctx, "refresh", err)
	}

	return sess, nil
}

// Logout revokes the presented refresh token if it is still the active one.
// It never fails; an expired but genuine token is still revoked.
func (s *AccountService) Logout(ctx context.Context, refreshToken string) {
	s.Metrics.AuthOp("logout", nil)

	if refreshToken == "" {
		return
	}
	claims, err := s.Issuer.VerifySignature(auth.FamilyRefresh, refreshToken)
	if err != nil {
		return
	}

	err = s.repo().ClearRefreshToken(ctx, claims.Subject, auth.Digest(refreshToken), s.Clock.Now())
	switch {
	case err == nil:
		s.Logger.Info(ctx, "logout", "account_id", claims.Subject)
	case errors.Is(err, common.ErrorNotFound):
		s.Logger.Debug(ctx, "logout with inactive refresh token", "account_id", claims.Subject)
	default:
		s.Logger.Warn(ctx, "logout could not revoke refresh token", "account_id", claims.Subject, "error", err)
	}
}

// Authenticate validates an access token and returns its claims.
func (s *AccountService) Authenticate(ctx context.Context, accessToken string) (*auth.Claims, error) {
	if accessToken == "" {
		return nil, common.ErrMissingToken
	}
	return s.Issuer.Verify(auth.FamilyAccess, accessToken)
}

func (s *AccountService) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	account, err := s.repo().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, s.internal(ctx, "get profile", err)
	}
	return account.Profile(), nil
}

// UpdateProfile changes name and/or email. Sessions are left untouched.
func (s *AccountService) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (p *models.Profile, err error) {
	defer func() { s.Metrics.AuthOp("update_profile", err) }()

	account, err := s.repo().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, s.internal(ctx, "update profile", err)
	}

	name, email := account.Name, account.Email
	if upd.Name != nil {
		name = *upd.Name
	}
	if upd.Email != nil {
		email = common.NormalizeEmail(*upd.Email)
	}

	updated, err := s.repo().UpdateProfile(ctx, id, name, email, s.Clock.Now())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, s.internal(ctx, "update profile", err)
	}
	return updated.Profile(), nil
}

// ChangePassword requires the current password. The write is conditional
// on the hash that was checked, so a concurrent change makes this one fail.
func (s *AccountService) ChangePassword(ctx context.Context, id, current, next string) (err error) {
	defer func() { s.Metrics.AuthOp("change_password", err) }()

	account, err := s.repo().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return err
		}
		return s.internal(ctx, "change password", err)
	}

	ok, err := s.Hasher.Compare(ctx, account.PasswordHash, current)
	if err != nil {
		return s.internal(ctx, "change password", err)
	}
	if !ok {
		return common.ErrInvalidCredentials
	}

	hash, err := s.Hasher.Hash(ctx, next)
	if err != nil {
		return s.internal(ctx, "change password", err)
	}

	if err := s.repo().UpdatePassword(ctx, id, account.PasswordHash, hash, s.Clock.Now()); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidCredentials
		}
		return s.internal(ctx, "change password", err)
	}

	s.Logger.Info(ctx, "password changed", "account_id", id)
	s.send(ctx, mailer.PasswordChangedMessage(account.Email, account.Name))
	return nil
}

// DeleteAccount removes targetID. Actors may delete themselves; admins may
// delete anyone.
func (s *AccountService) DeleteAccount(ctx context.Context, actorID, targetID string) (err error) {
	defer func() { s.Metrics.AuthOp("delete_account", err) }()

	err = s.Repos.InTx(ctx, func(ctx context.Context, repo accounts.Repository) error {
		if actorID != targetID {
			actor, err := repo.GetByID(ctx, actorID)
			if err != nil {
				if errors.Is(err, common.ErrorNotFound) {
					return common.ErrForbidden
				}
				return err
			}
			if !actor.IsAdmin() {
				return common.ErrForbidden
			}
		}
		return repo.Delete(ctx, targetID)
	})

	switch {
	case err == nil:
		s.Logger.Info(ctx, "account deleted", "account_id", targetID, "actor_id", actorID)
		return nil
	case errors.Is(err, common.ErrForbidden), errors.Is(err, common.ErrorNotFound):
		return err
	default:
		return s.internal(ctx, "delete account", err)
	}
}

// startSession mints an access/refresh pair and persists the refresh
// digest through store.
func (s *AccountService) startSession(ctx context.Context, account *models.Account, store func(next string, now time.Time) error) (*Session, error) {
	access, accessExp, err := s.Issuer.Issue(auth.FamilyAccess, account.ID)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.Issuer.Issue(auth.FamilyRefresh, account.ID)
	if err != nil {
		return nil, err
	}

	if err := store(auth.Digest(refresh), s.Clock.Now()); err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: refreshExp,
		Profile:               account.Profile(),
	}, nil
}
