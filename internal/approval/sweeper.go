package approval

import (
	"context"
	"time"

	"github.com/wardenhq/warden/internal/log"
)

// ExpireFunc records the consequence of an expiry, typically a BLOCKED
// ledger entry for the parked command.
type ExpireFunc func(ctx context.Context, req Request) error

// Sweeper expires overdue approvals on a timer.
type Sweeper struct {
	store    *Store
	interval time.Duration
	onExpire ExpireFunc
}

func NewSweeper(store *Store, interval time.Duration, onExpire ExpireFunc) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, interval: interval, onExpire: onExpire}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.WithComponent("approval").Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce expires every due request and returns how many it handled.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	due, err := s.store.Due(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	logger := log.WithComponent("approval")
	expired := 0
	for _, req := range due {
		if _, err := s.store.Resolve(ctx, req.EntryID, StatusExpired, "sweeper"); err != nil {
			// Lost the race with an operator decision.
			continue
		}
		if s.onExpire != nil {
			if err := s.onExpire(ctx, req); err != nil {
				logger.Error("expiry callback failed", "entry_id", req.EntryID, "error", err)
				continue
			}
		}
		logger.Info("approval expired", "entry_id", req.EntryID, "command_id", req.CommandID)
		expired++
	}
	return expired, nil
}
