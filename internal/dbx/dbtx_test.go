package dbx

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS accounts (id TEXT PRIMARY KEY, email TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)
	return db
}

func countAccounts(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&n))
	return n
}

func insert(ctx context.Context, tx DBTX, id, email string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO accounts (id, email) VALUES (?, ?)`, id, email)
	return err
}

func TestWithTx_Commit(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := insert(ctx, tx, "a1", "alice@example.com"); err != nil {
			return err
		}
		return insert(ctx, tx, "b1", "bob@example.com")
	})
	require.NoError(t, err)
	require.Equal(t, 2, countAccounts(t, db))
}

func TestWithTx_FnErrorRollsBackEverything(t *testing.T) {
	db := setupDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insert(ctx, tx, "a1", "alice@example.com"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, "boom", err.Error(), "a clean rollback adds nothing to the error")
	require.Zero(t, countAccounts(t, db))
}

func TestWithTx_ConstraintViolationRollsBackEarlierWrites(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := insert(ctx, tx, "a1", "alice@example.com"); err != nil {
			return err
		}
		return insert(ctx, tx, "a2", "alice@example.com")
	})
	require.Error(t, err)
	require.Zero(t, countAccounts(t, db))
}

func TestWithTx_PanicRollsBackAndPropagates(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Zero(t, countAccounts(t, db))
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insert(ctx, tx, "a1", "alice@example.com"))
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.ErrorContains(t, err, "begin tx")
}

func TestWithTx_CancelledContext(t *testing.T) {
	db := setupDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithTx(ctx, db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWithTx_ReadsOwnWrites(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := insert(ctx, tx, "a1", "alice@example.com"); err != nil {
			return err
		}
		var email string
		if err := tx.QueryRowContext(ctx, `SELECT email FROM accounts WHERE id = ?`, "a1").Scan(&email); err != nil {
			return err
		}
		require.Equal(t, "alice@example.com", email)
		return nil
	})
	require.NoError(t, err)
}
