package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/flitsinc/agent-worlds/internal/metrics"
)

// Reaper periodically sweeps processing messages with stale heartbeats back
// into the pending pool, and on a slower cadence deletes old terminal rows.
type Reaper struct {
	Store *Store
	Log   *slog.Logger

	ReapInterval    time.Duration
	CleanupInterval time.Duration
	RetentionAge    time.Duration
}

func (r *Reaper) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// Run blocks until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	reapEvery := r.ReapInterval
	if reapEvery <= 0 {
		reapEvery = 30 * time.Second
	}
	cleanupEvery := r.CleanupInterval
	if cleanupEvery <= 0 {
		cleanupEvery = time.Hour
	}
	retention := r.RetentionAge
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	reapTicker := time.NewTicker(reapEvery)
	defer reapTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupEvery)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reapTicker.C:
			reclaimed, err := r.Store.DetectStuckMessages(ctx)
			if err != nil {
				r.logger().Error("stuck message sweep failed", "error", err)
				continue
			}
			if reclaimed > 0 {
				r.logger().Warn("requeued stuck messages", "count", reclaimed)
			}
		case <-cleanupTicker.C:
			deleted, err := r.Store.Cleanup(ctx, time.Now().Add(-retention))
			if err != nil {
				r.logger().Error("queue cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				metrics.QueueCleanupDeleted.Add(float64(deleted))
				r.logger().Info("cleaned up terminal queue messages", "count", deleted)
			}
		}
	}
}
