package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/metrics"
)

// LeaderLock grants a lease to at most one replica at a time.
type LeaderLock interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, ok bool, err error)
}

// Sweeper periodically expires overdue reservations. Only the lease holder
// sweeps; a second replica sweeping anyway is wasted work, not a double release.
type Sweeper struct {
	log      *zap.Logger
	manager  *Manager
	lock     LeaderLock
	metrics  *metrics.Metrics
	interval time.Duration
	batch    int
	after    []func(ctx context.Context) error
}

func NewSweeper(log *zap.Logger, manager *Manager, lock LeaderLock, m *metrics.Metrics, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 200
	}
	return &Sweeper{log: log, manager: manager, lock: lock, metrics: m, interval: interval, batch: batch}
}

// AfterSweep registers work that runs under the same lease after each pass.
func (s *Sweeper) AfterSweep(fn func(ctx context.Context) error) {
	s.after = append(s.after, fn)
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.log.Info("sweeper started", zap.Duration("interval", s.interval), zap.Int("batch", s.batch))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return nil
		case <-t.C:
			if _, _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Tick performs one pass: take the lease, drain overdue reservations in
// batches, run the AfterSweep hooks, give the lease back.
func (s *Sweeper) Tick(ctx context.Context) (expired int, leader bool, err error) {
	unlock, ok, err := s.lock.TryLock(ctx)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		s.metrics.Swept(0, false)
		return 0, false, nil
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			s.log.Warn("sweeper unlock failed", zap.Error(uerr))
		}
	}()

	for {
		n, err := s.manager.SweepExpired(ctx, s.batch)
		expired += n
		if err != nil {
			s.metrics.Swept(expired, true)
			return expired, true, err
		}
		if n < s.batch {
			break
		}
	}
	s.metrics.Swept(expired, true)
	if expired > 0 {
		s.log.Info("reservations expired", zap.Int("count", expired))
	}

	for _, fn := range s.after {
		if err := fn(ctx); err != nil {
			s.log.Error("after-sweep hook failed", zap.Error(err))
		}
	}
	return expired, true, nil
}
