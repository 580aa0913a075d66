// Package reaper deletes accounts that never completed email verification.
package reaper

import (
	"context"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/credkeeper/internal/timex"
)

// Store is the slice of the credential store the reaper needs.
type Store interface {
	// DeleteUnverifiedBefore removes up to limit unverified accounts created
	// before cutoff (all of them when limit <= 0). The predicate is
	// evaluated by the store at delete time.
	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type Config struct {
	GracePeriod time.Duration
	Interval    time.Duration
	// BatchSize bounds each delete statement; 0 deletes in one statement.
	BatchSize int
}

type Reaper struct {
	store   Store
	cfg     Config
	clock   timex.Clock
	logger  logging.Logger
	metrics *metrics.Metrics
}

func New(store Store, cfg Config, clock timex.Clock, logger logging.Logger, m *metrics.Metrics) *Reaper {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Reaper{
		store:   store,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With("module", "reaper"),
		metrics: m,
	}
}

// Sweep deletes every account that is still unverified and older than the
// grace period, and returns how many were removed.
func (r *Reaper) Sweep(ctx context.Context) (deleted int64, err error) {
	defer func() { r.metrics.Sweep(deleted, err) }()

	cutoff := r.clock.Now().Add(-r.cfg.GracePeriod)

	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		n, err := r.store.DeleteUnverifiedBefore(ctx, cutoff, r.cfg.BatchSize)
		deleted += n
		if err != nil {
			r.logger.Error(ctx, "sweep failed", "deleted", deleted, "error", err)
			return deleted, err
		}
		if r.cfg.BatchSize <= 0 || n < int64(r.cfg.BatchSize) {
			break
		}
	}

	if deleted > 0 {
		r.logger.Info(ctx, "unverified accounts removed", "deleted", deleted, "cutoff", cutoff)
	} else {
		r.logger.Debug(ctx, "nothing to sweep", "cutoff", cutoff)
	}
	return deleted, nil
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info(ctx, "reaper started", "interval", r.cfg.Interval, "grace_period", r.cfg.GracePeriod)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		_, _ = r.Sweep(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info(context.Background(), "reaper stopped")
			return
		case <-ticker.C:
		}
	}
}
