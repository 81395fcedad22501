package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"credit-settlement/internal/infra/redis"
)

const sweepLockKey = "lock:order_sweep"

// Sweeper is the part of the order use case the sweeper drives.
type Sweeper interface {
	SweepExpiredPending(ctx context.Context, olderThan time.Time) (int64, error)
}

// OrderSweeper periodically closes Pending orders nobody paid for. The close is a
// status-conditional update, so a callback that lands first always wins; the lock
// only keeps replicas from doing the same scan.
type OrderSweeper struct {
	orders     Sweeper
	locker     redis.Locker // optional
	interval   time.Duration
	staleAfter time.Duration
	runTimeout time.Duration
	log        *zerolog.Logger
	now        func() time.Time
}

func NewOrderSweeper(orders Sweeper, locker redis.Locker, interval, staleAfter time.Duration, logger *zerolog.Logger) *OrderSweeper {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if staleAfter <= 0 {
		staleAfter = 6 * time.Hour
	}
	l := logger.With().Str("component", "OrderSweeper").Logger()
	return &OrderSweeper{
		orders:     orders,
		locker:     locker,
		interval:   interval,
		staleAfter: staleAfter,
		runTimeout: time.Minute,
		log:        &l,
		now:        time.Now,
	}
}

func (w *OrderSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("Starting order sweeper")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping order sweeper")
			return ctx.Err()
		case <-t.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("order sweep failed")
			}
		}
	}
}

// SweepOnce runs one bounded pass. A pass skipped because another replica holds
// the lock reports zero and no error.
func (w *OrderSweeper) SweepOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, w.runTimeout)
	defer cancel()

	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, sweepLockKey, w.runTimeout)
		switch {
		case errors.Is(err, redis.ErrLockHeld):
			w.log.Debug().Msg("sweep lock held elsewhere, skipping")
			return 0, nil
		case err != nil:
			// the close is idempotent; run unlocked rather than not at all
			w.log.Warn().Err(err).Msg("sweep lock unavailable, running unlocked")
		default:
			defer func() {
				if err := w.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
					w.log.Warn().Err(err).Msg("sweep unlock failed")
				}
			}()
		}
	}

	return w.orders.SweepExpiredPending(ctx, w.now().Add(-w.staleAfter))
}
