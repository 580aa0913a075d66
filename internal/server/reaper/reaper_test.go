package reaper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/credkeeper/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo accounts.Repository, email string, verified bool, age time.Duration) string {
	t.Helper()
	a, err := repo.Create(context.Background(), &models.Account{
		Email:        email,
		PasswordHash: "hash",
		IsVerified:   verified,
		CreatedAt:    now.Add(-age),
		UpdatedAt:    now.Add(-age),
	})
	require.NoError(t, err)
	return a.ID
}

func exists(repo accounts.Repository, id string) bool {
	_, err := repo.GetByID(context.Background(), id)
	return err == nil
}

func TestSweep_Predicate(t *testing.T) {
	for _, batch := range []int{0, 1, 2, 100} {
		repo := accounts.NewMemoryRepository()

		oldVerified := seed(t, repo, "old-verified@example.com", true, 72*time.Hour)
		oldPending1 := seed(t, repo, "old1@example.com", false, 48*time.Hour)
		oldPending2 := seed(t, repo, "old2@example.com", false, 25*time.Hour)
		oldPending3 := seed(t, repo, "old3@example.com", false, 30*time.Hour)
		young := seed(t, repo, "young@example.com", false, time.Hour)
		edge := seed(t, repo, "edge@example.com", false, 24*time.Hour)

		m := metrics.New()
		r := New(repo, Config{GracePeriod: 24 * time.Hour, Interval: time.Hour, BatchSize: batch},
			timex.NewFixedClock(now), logging.Nop{}, m)

		n, err := r.Sweep(context.Background())
		require.NoError(t, err, "batch %d", batch)
		assert.EqualValues(t, 3, n, "batch %d", batch)

		assert.True(t, exists(repo, oldVerified), "verified accounts are never reaped")
		assert.True(t, exists(repo, young), "young pending accounts stay")
		assert.True(t, exists(repo, edge), "cutoff is exclusive")
		for _, id := range []string{oldPending1, oldPending2, oldPending3} {
			assert.False(t, exists(repo, id))
		}

		n, err = r.Sweep(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)

		assert.Contains(t, scrape(t, m), "credkeeper_reaped_accounts_total 3")
	}
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestSweep_EmptyStore(t *testing.T) {
	r := New(accounts.NewMemoryRepository(), Config{GracePeriod: time.Hour, Interval: time.Hour}, nil, nil, nil)

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

type fakeStore struct {
	mu      sync.Mutex
	batches []int64
	err     error
	calls   int
	cutoffs []time.Time
}

func (f *fakeStore) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	if len(f.batches) == 0 {
		return 0, f.err
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

func TestSweep_BatchesUntilShort(t *testing.T) {
	store := &fakeStore{batches: []int64{10, 10, 3}}
	r := New(store, Config{GracePeriod: time.Hour, BatchSize: 10}, timex.NewFixedClock(now), nil, nil)

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 23, n)
	assert.Equal(t, 3, store.calls)
	for _, c := range store.cutoffs {
		assert.Equal(t, now.Add(-time.Hour), c)
	}
}

func TestSweep_StoreError(t *testing.T) {
	store := &fakeStore{batches: []int64{10}, err: errors.New("db error: boom")}
	m := metrics.New()
	r := New(store, Config{GracePeriod: time.Hour, BatchSize: 10}, timex.NewFixedClock(now), nil, m)

	n, err := r.Sweep(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 10, n, "rows removed before the failure are reported")
	assert.Contains(t, scrape(t, m), `credkeeper_reaper_sweeps_total{outcome="failure"} 1`)
}

func TestSweep_CancelledContext(t *testing.T) {
	store := &fakeStore{batches: []int64{10, 10}}
	r := New(store, Config{GracePeriod: time.Hour, BatchSize: 10}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.calls)
}

type countingStore struct {
	calls atomic.Int32
}

func (c *countingStore) DeleteUnverifiedBefore(context.Context, time.Time, int) (int64, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestRun_SweepsOnStartAndOnTick(t *testing.T) {
	store := &countingStore{}
	r := New(store, Config{GracePeriod: time.Hour, Interval: 5 * time.Millisecond}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.calls.Load() >= 3 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
