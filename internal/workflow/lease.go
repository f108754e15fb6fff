package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"storyforge/internal/lifecycle"
	"storyforge/internal/logging"
	"storyforge/internal/queue"
)

// LeaseKeeper renews claims while their stage handler runs.
type LeaseKeeper struct {
	lifecycle *lifecycle.Manager
	logger    *slog.Logger
	interval  time.Duration
	lease     time.Duration
}

// NewLeaseKeeper creates a keeper that extends leases to lease every interval.
func NewLeaseKeeper(life *lifecycle.Manager, logger *slog.Logger, interval, lease time.Duration) *LeaseKeeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LeaseKeeper{
		lifecycle: life,
		logger:    logging.NewComponentLogger(logger, "lease-keeper"),
		interval:  interval,
		lease:     lease,
	}
}

// Run renews claim until ctx is cancelled. When the claim is lost to another
// worker, onLost is called so the running job can be abandoned.
func (k *LeaseKeeper) Run(ctx context.Context, wg *sync.WaitGroup, claim *queue.Claim, onLost context.CancelFunc) {
	defer wg.Done()
	if k.interval <= 0 || k.lease <= 0 {
		return
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	// Renewal updates ExpiresAt; keep that off the claim the job is using.
	held := *claim
	logger := logging.WithContext(ctx, k.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := k.lifecycle.Renew(ctx, &held, k.lease)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				return
			case errors.Is(err, queue.ErrConflict):
				logger.Warn("lease lost; abandoning job",
					logging.String(logging.FieldEventType, "lease_lost"),
					logging.Error(err),
				)
				if onLost != nil {
					onLost()
				}
				return
			default:
				logger.Warn("lease renewal failed", logging.Error(err))
			}
		}
	}
}
