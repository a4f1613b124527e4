package scheduler

import (
	"errors"
	"time"

	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(key string, err error) {
	if err == nil {
		return
	}
	// The queue rejects work while it drains on shutdown.
	if errors.Is(err, queue.ErrStopping) {
		s.log.Debug("schedule trigger skipped", logx.String("key", key), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[key]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[key] = now
	s.enqMu.Unlock()

	// Queue full can be bursty.
	s.log.Warn("schedule failed to enqueue job", logx.String("key", key), logx.Err(err))
}
