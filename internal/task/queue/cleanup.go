package queue

import (
	"context"
	"time"

	logx "clubqueue/pkg/logx"
)

func (q *Queue) cleanupLoop(ctx context.Context) error {
	q.mu.Lock()
	every := q.cfg.CleanupInterval
	q.mu.Unlock()

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			if n := q.Sweep(now); n > 0 {
				q.log.Debug("cleanup removed jobs", logx.Int("removed", n))
			}
		}
	}
}

// Sweep evicts terminal jobs that completed more than MaxJobAge before now.
// Jobs waiting for a retry are kept.
func (q *Queue) Sweep(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := now.Add(-q.cfg.MaxJobAge)
	removed := 0
	for id, j := range q.jobs {
		if !j.status.Terminal() || !j.retryAt.IsZero() || j.completedAt.IsZero() {
			continue
		}
		if j.completedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}
