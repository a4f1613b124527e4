package queue

import (
	"fmt"
	"sync"
	"time"

	"clubqueue/internal/eventbus"
	logx "clubqueue/pkg/logx"
)

// Deferrer runs fn at (or shortly after) at, keyed so it can be disarmed.
// The scheduler implements it so that retries show up alongside other
// scheduled work.
type Deferrer interface {
	Defer(key string, at time.Time, fn func())
	CancelDeferred(key string) bool
}

func retryKey(id string) string { return "retry:" + id }

const maxBackoffShift = 20

// backoffDelay returns base * 2^retryCount.
func backoffDelay(base time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffShift {
		retryCount = maxBackoffShift
	}
	return base << uint(retryCount)
}

// requeue is the deferred half of an automatic retry.
func (q *Queue) requeue(id string) {
	q.mu.Lock()
	j := q.jobs[id]
	if j == nil || !j.status.IsFailure() || j.retryAt.IsZero() {
		q.mu.Unlock()
		return
	}
	if q.pending.Len() >= q.cfg.MaxQueueSize {
		j.retryAt = time.Time{}
		j.errMsg = fmt.Sprintf("%s (retry dropped: %v)", j.errMsg, ErrQueueFull)
		info := j.info()
		q.mu.Unlock()
		q.log.Warn("job.failed", logx.String("job", info.Name), logx.String("id", id), logx.String("err", info.Error))
		q.publish(eventbus.JobFailed, info)
		return
	}
	if !j.recycle() {
		j.retryAt = time.Time{}
		q.mu.Unlock()
		return
	}
	q.pending.Insert(j)
	info := j.info()
	q.mu.Unlock()

	q.log.Debug("job.enqueued", logx.String("job", info.Name), logx.String("id", id), logx.Int("retry", info.RetryCount))
	q.publish(eventbus.JobEnqueued, info)
	q.dispatch()
}

// Retry re-enqueues a failed job immediately, subject to the same
// retryCount < maxRetries guard as automatic retries. A pending automatic
// retry for the job is disarmed first.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	j := q.jobs[id]
	if j == nil {
		q.mu.Unlock()
		return ErrNotFound
	}
	if !j.status.IsFailure() || j.retryCount >= j.maxRetries {
		st, rc, mr := j.status, j.retryCount, j.maxRetries
		q.mu.Unlock()
		return fmt.Errorf("%w: status=%s retries=%d/%d", ErrNotRetryable, st, rc, mr)
	}
	if q.state == stateStopping {
		q.mu.Unlock()
		return ErrStopping
	}
	if q.pending.Len() >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return ErrQueueFull
	}
	armed := !j.retryAt.IsZero()
	d := q.deferrer
	j.recycle()
	q.pending.Insert(j)
	info := j.info()
	q.mu.Unlock()

	if armed {
		d.CancelDeferred(retryKey(id))
	}
	q.log.Info("job manual retry", logx.String("job", info.Name), logx.String("id", id), logx.Int("retry", info.RetryCount))
	q.publish(eventbus.JobEnqueued, info)
	q.dispatch()
	return nil
}

// timerDeferrer is the fallback Deferrer used when no scheduler is wired.
type timerDeferrer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerDeferrer() *timerDeferrer {
	return &timerDeferrer{timers: map[string]*time.Timer{}}
}

func (d *timerDeferrer) Defer(key string, at time.Time, fn func()) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		d.mu.Lock()
		cur, ok := d.timers[key]
		if !ok || cur != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
	d.timers[key] = t
}

func (d *timerDeferrer) CancelDeferred(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(d.timers, key)
	return true
}
