package scheduler

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// RecoverableQueue is the maintenance surface of a durable queue.
type RecoverableQueue interface {
	PromoteDue(ctx context.Context) (int, error)
	Reclaim(ctx context.Context, visibility time.Duration) (int, error)
	Depth(ctx context.Context) (int64, error)
}

// QueueMaintenance returns a tick that moves due retries to ready, returns
// jobs claimed longer than visibility ago to ready and publishes the depth.
func QueueMaintenance(q RecoverableQueue, visibility time.Duration) func(context.Context) {
	log := logger.With("component", "scheduler.QueueMaintenance")
	return func(ctx context.Context) {
		if n, err := q.PromoteDue(ctx); err != nil {
			log.Error("promote delayed jobs", "error", err)
		} else if n > 0 {
			log.Debug("delayed jobs ready", "count", n)
		}
		if n, err := q.Reclaim(ctx, visibility); err != nil {
			log.Error("reclaim stale jobs", "error", err)
		} else if n > 0 {
			log.Warn("reclaimed jobs from dead workers", "count", n)
		}
		if d, err := q.Depth(ctx); err == nil {
			metrics.QueueDepth.Set(float64(d))
		}
	}
}
