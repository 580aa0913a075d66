package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const accountColumns = `id, email, name, password_hash, role, is_verified,
		 verification_token, reset_token, reset_token_expires_at,
		 active_refresh_token, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	a := &models.Account{}
	var role string
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &role, &a.IsVerified,
		&a.VerificationToken, &a.ResetToken, &a.ResetTokenExpiresAt,
		&a.ActiveRefreshToken, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Role = models.Role(role)
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// mapRowErr converts a QueryRow error into the repository taxonomy.
func mapRowErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrorNotFound
	}
	if isUniqueViolation(err) {
		return common.ErrDuplicateEmail
	}
	return fmt.Errorf("db error: %w", err)
}

// execOne runs a conditional write and reports common.ErrorNotFound when it
// touched no row.
func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Role == "" {
		account.Role = models.RoleUser
	}

	query :=
		`INSERT INTO accounts (id, email, name, password_hash, role, is_verified,
		 verification_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING ` + accountColumns

	row := r.db.QueryRowContext(ctx, query,
		account.ID, account.Email, account.Name, account.PasswordHash, string(account.Role),
		account.IsVerified, account.VerificationToken, account.CreatedAt, account.UpdatedAt)

	created, err := scanAccount(row)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return created, nil
}

// validID reports whether id can name a row. The id column is a UUID, so
// anything else is rejected by the driver before it reaches the table.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if !validID(id) {
		return nil, common.ErrorNotFound
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapRowErr(err)
	}
	return a, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, mapRowErr(err)
	}
	return a, nil
}

func (r *PostgresRepository) GetByResetToken(ctx context.Context, digest string, now time.Time) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		 WHERE reset_token = $1 AND reset_token_expires_at > $2`

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, digest, now))
	if err != nil {
		return nil, mapRowErr(err)
	}
	return a, nil
}

func (r *PostgresRepository) SetVerificationToken(ctx context.Context, id, digest string, now time.Time) error {
	query :=
		`UPDATE accounts SET verification_token = $2, updated_at = $3
		 WHERE id = $1 AND is_verified = FALSE`

	return r.execOne(ctx, query, id, digest, now)
}

func (r *PostgresRepository) MarkVerified(ctx context.Context, id, digest string, now time.Time) (*models.Account, error) {
	query :=
		`UPDATE accounts SET is_verified = TRUE, verification_token = NULL, updated_at = $3
		 WHERE id = $1 AND verification_token = $2 AND is_verified = FALSE
		 RETURNING ` + accountColumns

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, id, digest, now))
	if err != nil {
		return nil, mapRowErr(err)
	}
	return a, nil
}

func (r *PostgresRepository) SetRefreshToken(ctx context.Context, id, digest string, now time.Time) error {
	query :=
		`UPDATE accounts SET active_refresh_token = $2, updated_at = $3
		 WHERE id = $1`

	return r.execOne(ctx, query, id, digest, now)
}

func (r *PostgresRepository) SwapRefreshToken(ctx context.Context, id, expected, next string, now time.Time) error {
	query :=
		`UPDATE accounts SET active_refresh_token = $3, updated_at = $4
		 WHERE id = $1 AND active_refresh_token = $2`

	return r.execOne(ctx, query, id, expected, next, now)
}

func (r *PostgresRepository) ClearRefreshToken(ctx context.Context, id, expected string, now time.Time) error {
	query :=
		`UPDATE accounts SET active_refresh_token = NULL, updated_at = $3
		 WHERE id = $1 AND active_refresh_token = $2`

	return r.execOne(ctx, query, id, expected, now)
}

func (r *PostgresRepository) SetResetToken(ctx context.Context, id, digest string, expiresAt, now time.Time) error {
	query :=
		`UPDATE accounts SET reset_token = $2, reset_token_expires_at = $3, updated_at = $4
		 WHERE id = $1`

	return r.execOne(ctx, query, id, digest, expiresAt, now)
}

func (r *PostgresRepository) ConsumeResetToken(ctx context.Context, digest, newHash string, now time.Time) (*models.Account, error) {
	query :=
		`UPDATE accounts SET password_hash = $2, reset_token = NULL, reset_token_expires_at = NULL,
		 active_refresh_token = NULL, updated_at = $3
		 WHERE reset_token = $1 AND reset_token_expires_at > $3
		 RETURNING ` + accountColumns

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, digest, newHash, now))
	if err != nil {
		return nil, mapRowErr(err)
	}
	return a, nil
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, expectedHash, newHash string, now time.Time) error {
	query :=
		`UPDATE accounts SET password_hash = $3, updated_at = $4
		 WHERE id = $1 AND password_hash = $2`

	return r.execOne(ctx, query, id, expectedHash, newHash, now)
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, id, name, email string, now time.Time) (*models.Account, error) {
	query :=
		`UPDATE accounts SET name = $2, email = $3, updated_at = $4
		 WHERE id = $1
		 RETURNING ` + accountColumns

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, id, name, email, now))
	if err != nil {
		return nil, mapRowErr(err)
	}
	return a, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return common.ErrorNotFound
	}
	return r.execOne(ctx, `DELETE FROM accounts WHERE id = $1`, id)
}

func (r *PostgresRepository) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	var (
		res sql.Result
		err error
	)

	if limit <= 0 {
		query :=
			`DELETE FROM accounts
			 WHERE is_verified = FALSE AND created_at < $1`
		res, err = r.db.ExecContext(ctx, query, cutoff)
	} else {
		// The inner select only picks candidates; the outer predicate is
		// what decides, so a row verified after selection survives.
		query :=
			`DELETE FROM accounts
			 WHERE id IN (
			     SELECT id FROM accounts
			     WHERE is_verified = FALSE AND created_at < $1
			     ORDER BY created_at
			     LIMIT $2
			     FOR UPDATE SKIP LOCKED
			 )
			 AND is_verified = FALSE AND created_at < $1`
		res, err = r.db.ExecContext(ctx, query, cutoff, limit)
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
