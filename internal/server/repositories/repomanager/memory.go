package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/accounts"
)

// MemoryRepositoryManager serves a single MemoryRepository. Used when the
// DSN is "memory" and by tests.
type MemoryRepositoryManager struct {
	// txMu serialises InTx callers against each other. Single-statement
	// writes are already atomic inside the repository.
	txMu sync.Mutex
	repo *accounts.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{repo: accounts.NewMemoryRepository()}
}

func (m *MemoryRepositoryManager) Accounts() accounts.Repository {
	return m.repo
}

// InTx runs fn under an exclusive lock. There is no rollback: fn's writes
// before an error stay applied.
func (m *MemoryRepositoryManager) InTx(ctx context.Context, fn func(ctx context.Context, repo accounts.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx, m.repo)
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *MemoryRepositoryManager) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryRepositoryManager) Close() error { return nil }
