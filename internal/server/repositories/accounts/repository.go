// Package accounts is the credential store: the only writer of account
// rows. Every state transition that can race is a conditional write, so
// concurrent server instances serialise on the database rather than on
// in-process locks.
package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

// Repository persists accounts.
//
// Lookups return common.ErrorNotFound when no row matches. Conditional
// writes return common.ErrorNotFound when their precondition no longer
// holds, which callers treat as a lost race. Token arguments are digests.
type Repository interface {
	// Create inserts a new account. A taken email yields
	// common.ErrDuplicateEmail and no row is written.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	// GetByResetToken only matches a reset token that expires after now.
	GetByResetToken(ctx context.Context, digest string, now time.Time) (*models.Account, error)

	// SetVerificationToken replaces the verification digest of an
	// unverified account.
	SetVerificationToken(ctx context.Context, id, digest string, now time.Time) error
	// MarkVerified flips is_verified and clears the digest, provided the
	// account is still unverified and digest is the stored one.
	MarkVerified(ctx context.Context, id, digest string, now time.Time) (*models.Account, error)

	// SetRefreshToken unconditionally installs the refresh digest (login).
	SetRefreshToken(ctx context.Context, id, digest string, now time.Time) error
	// SwapRefreshToken installs next only if expected is still stored.
	SwapRefreshToken(ctx context.Context, id, expected, next string, now time.Time) error
	// ClearRefreshToken removes the refresh digest if it equals expected.
	ClearRefreshToken(ctx context.Context, id, expected string, now time.Time) error

	SetResetToken(ctx context.Context, id, digest string, expiresAt, now time.Time) error
	// ConsumeResetToken writes newHash and clears both reset fields and the
	// refresh digest in one statement, matching only an unexpired token.
	ConsumeResetToken(ctx context.Context, digest, newHash string, now time.Time) (*models.Account, error)

	// UpdatePassword swaps the hash if expectedHash is still stored.
	UpdatePassword(ctx context.Context, id, expectedHash, newHash string, now time.Time) error
	UpdateProfile(ctx context.Context, id, name, email string, now time.Time) (*models.Account, error)

	Delete(ctx context.Context, id string) error
	// DeleteUnverifiedBefore removes unverified accounts created before
	// cutoff. limit > 0 bounds the batch; the predicate is re-evaluated on
	// every deleted row.
	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
