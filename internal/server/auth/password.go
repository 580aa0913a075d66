package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	// Compare returns false without error on mismatch.
	Compare(ctx context.Context, hash, password string) (bool, error)
	// CompareDummy burns the same work as Compare against a throwaway
	// hash. Used when no account exists so timing does not reveal it.
	CompareDummy(ctx context.Context, password string)
}

// BcryptHasher runs bcrypt on a bounded number of goroutines so a burst of
// logins cannot starve the rest of the process of CPU.
type BcryptHasher struct {
	cost  int
	sem   *semaphore.Weighted
	dummy []byte
}

func NewBcryptHasher(cost, workers int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	if workers < 1 {
		workers = 1
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("credkeeper-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	return &BcryptHasher{
		cost:  cost,
		sem:   semaphore.NewWeighted(int64(workers)),
		dummy: dummy,
	}, nil
}

func (h *BcryptHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Compare(ctx context.Context, hash, password string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("compare password: %w", err)
	}
}

func (h *BcryptHasher) CompareDummy(ctx context.Context, password string) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer h.sem.Release(1)

	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
