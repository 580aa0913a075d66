package repomanager

import (
	"context"

	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/accounts"
)

// RepositoryManager owns the store connection and vends repositories bound
// either to it or to a transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Accounts() accounts.Repository
	// InTx runs fn with a repository whose writes commit together or not
	// at all.
	InTx(ctx context.Context, fn func(ctx context.Context, repo accounts.Repository) error) error
	Ping(ctx context.Context) error
	Close() error
}
