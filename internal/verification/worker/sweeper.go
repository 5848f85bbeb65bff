// Package worker runs background maintenance for the key store.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Purger is the slice of the key service the sweeper needs.
type Purger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically removes expired keys. Claims already reject expired
// keys on their own, so the sweep only reclaims storage; a missed tick is
// harmless.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(purger Purger, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{purger: purger, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled. Sweep errors are logged
// and retried on the next tick rather than stopping the worker.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.purger.DeleteExpired(ctx); err != nil {
				s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
			}
		}
	}
}
