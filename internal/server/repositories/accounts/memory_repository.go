package accounts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps accounts in process memory. A single mutex makes
// every method atomic, which gives the same conditional-write semantics
// as the SQL statements of PostgresRepository.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*models.Account
	byEmail map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*models.Account),
		byEmail: make(map[string]string),
	}
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	c.VerificationToken = cloneString(a.VerificationToken)
	c.ResetToken = cloneString(a.ResetToken)
	c.ActiveRefreshToken = cloneString(a.ActiveRefreshToken)
	if a.ResetTokenExpiresAt != nil {
		t := *a.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func equals(stored *string, v string) bool {
	return stored != nil && *stored == v
}

func (r *MemoryRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[account.Email]; ok {
		return nil, common.ErrDuplicateEmail
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Role == "" {
		account.Role = models.RoleUser
	}

	stored := cloneAccount(account)
	r.byID[stored.ID] = stored
	r.byEmail[stored.Email] = stored.ID
	return cloneAccount(stored), nil
}

// get returns the live record; callers must hold mu.
func (r *MemoryRepository) get(id string) (*models.Account, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return a, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return cloneAccount(a), nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneAccount(r.byID[id]), nil
}

func (r *MemoryRepository) GetByResetToken(ctx context.Context, digest string, now time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.byID {
		if equals(a.ResetToken, digest) && a.ResetTokenExpiresAt != nil && a.ResetTokenExpiresAt.After(now) {
			return cloneAccount(a), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) SetVerificationToken(ctx context.Context, id, digest string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return err
	}
	if a.IsVerified {
		return common.ErrorNotFound
	}
	a.VerificationToken = &digest
	a.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) MarkVerified(ctx context.Context, id, digest string, now time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if a.IsVerified || !equals(a.VerificationToken, digest) {
		return nil, common.ErrorNotFound
	}
	a.IsVerified = true
	a.VerificationToken = nil
	a.UpdatedAt = now
	return cloneAccount(a), nil
}

func (r *MemoryRepository) SetRefreshToken(ctx context.Context, id, digest string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return err
	}
	a.ActiveRefreshToken = &digest
	a.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) SwapRefreshToken(ctx context.Context, id, expected, next string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return err
	}
	if !equals(a.ActiveRefreshToken, expected) {
		return common.ErrorNotFound
	}
	a.ActiveRefreshToken = &next
	a.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) ClearRefreshToken(ctx context.Context, id, expected string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return err
	}
	if !equals(a.ActiveRefreshToken, expected) {
		return common.ErrorNotFound
	}
	a.ActiveRefreshToken = nil
	a.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) SetResetToken(ctx context.Context, id, digest string, expiresAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return err
	}
	a.ResetToken = &digest
	a.ResetTokenExpiresAt = &expiresAt
	a.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) ConsumeResetToken(ctx context.Context, digest, newHash string, now time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.byID {
		if !equals(a.ResetToken, digest) || a.ResetTokenExpiresAt == nil || !a.ResetTokenExpiresAt.After(now) {
			continue
		}
		a.PasswordHash = newHash
		a.ResetToken = nil
		a.ResetTokenExpiresAt = nil
		a.ActiveRefreshToken = nil
		a.UpdatedAt = now
		return cloneAccount(a), nil
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) UpdatePassword(ctx context.Context, id, expectedHash, newHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return err
	}
	if a.PasswordHash != expectedHash {
		return common.ErrorNotFound
	}
	a.PasswordHash = newHash
	a.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) UpdateProfile(ctx context.Context, id, name, email string, now time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if owner, ok := r.byEmail[email]; ok && owner != id {
		return nil, common.ErrDuplicateEmail
	}
	delete(r.byEmail, a.Email)
	a.Name = name
	a.Email = email
	a.UpdatedAt = now
	r.byEmail[email] = id
	return cloneAccount(a), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(id)
	if err != nil {
		return err
	}
	delete(r.byEmail, a.Email)
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var victims []*models.Account
	for _, a := range r.byID {
		if !a.IsVerified && a.CreatedAt.Before(cutoff) {
			victims = append(victims, a)
		}
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].CreatedAt.Before(victims[j].CreatedAt) })
	if limit > 0 && len(victims) > limit {
		victims = victims[:limit]
	}

	for _, a := range victims {
		delete(r.byEmail, a.Email)
		delete(r.byID, a.ID)
	}
	return int64(len(victims)), nil
}
