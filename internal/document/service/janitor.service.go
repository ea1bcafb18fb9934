package service

import (
	"context"
	"time"

	"sharedoc/internal/metrics"
	"sharedoc/internal/notify"
	"sharedoc/pkg/logger"
)

// DefaultSweepInterval is how often Run reclaims expired locks.
const DefaultSweepInterval = 30 * time.Second

// Janitor reclaims locks whose holders stopped sending heartbeats.
type Janitor struct {
	Repo     LockRepository
	Notifier *notify.Broadcaster
	Interval time.Duration
	Now      Clock
}

func NewJanitor(repo LockRepository, notifier *notify.Broadcaster, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{Repo: repo, Notifier: notifier, Interval: interval, Now: time.Now}
}

// Sweep deletes every lock expired at the current time and announces each
// room as unlocked. Expiry is re-checked at delete time, so a lock renewed
// while the sweep runs survives it.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	removed, err := j.Repo.DeleteExpired(ctx, j.Now().UTC().Truncate(time.Millisecond))
	if err != nil {
		return 0, err
	}

	for _, l := range removed {
		metrics.LocksSwept.Inc()
		logger.Sugar.Infow("Reclaimed expired lock", "room_id", l.RoomID, "session_id", l.HolderSessionID, "expired_at", l.ExpiresAt)
		j.Notifier.Send(ctx, notify.DocumentUnlocked(l.RoomID, l.HolderSessionID))
	}
	return len(removed), nil
}

// Run sweeps on every tick until ctx is cancelled. A failed sweep is logged
// and retried on the next tick.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	logger.Sugar.Infof("Lock janitor started, sweeping every %s", j.Interval)
	for {
		select {
		case <-ctx.Done():
			logger.Sugar.Info("Lock janitor stopped")
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				logger.Sugar.Errorf("Lock sweep failed: %v", err)
			}
		}
	}
}
