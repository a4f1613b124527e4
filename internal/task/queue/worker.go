package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"clubqueue/internal/eventbus"
	logx "clubqueue/pkg/logx"
)

// dispatch assigns pending jobs to idle workers until either runs out.
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if q.state != stateRunning || q.pending.Len() == 0 {
			q.mu.Unlock()
			return
		}
		w := q.idleWorkerLocked()
		if w == nil {
			q.mu.Unlock()
			return
		}
		j := q.pending.PopFront()
		now := time.Now()
		j.setStatus(StatusRunning)
		j.startedAt = now
		j.worker = w.id
		w.status = WorkerBusy
		w.current = j.id
		w.lastActivity = now

		// Runs are detached from the Start context: Stop drains them explicitly.
		runCtx, cancel := context.WithCancel(context.Background())
		j.cancelRun = cancel
		q.active++
		info := j.info()
		q.mu.Unlock()

		q.log.Debug("job.started", logx.String("job", info.Name), logx.String("id", info.ID), logx.Int("worker", w.id), logx.Duration("queue_delay", now.Sub(info.CreatedAt)))
		q.publish(eventbus.JobStarted, info)
		go q.execute(runCtx, cancel, j, w)
	}
}

func (q *Queue) idleWorkerLocked() *worker {
	for _, w := range q.workers {
		if w.status == WorkerIdle {
			return w
		}
	}
	return nil
}

type outcome struct {
	result   any
	err      error
	timedOut bool
}

func (q *Queue) execute(ctx context.Context, cancel context.CancelFunc, j *job, w *worker) {
	defer cancel()

	q.mu.Lock()
	precancelled := j.cancelRequested
	calc, payload, jctx, timeout := j.calc, j.payload, j.jctx, j.timeout
	id := j.id
	q.mu.Unlock()

	var out outcome
	if precancelled {
		out = outcome{err: ErrCancelled}
	} else {
		ctx = withProgress(ctx, func(pct int) { q.setProgress(id, pct) })
		out = q.runCalculator(ctx, j.name, calc, payload, jctx, timeout)
	}

	q.finish(j, w, out)
	q.dispatch()
}

// runCalculator races calc against timeout. The calculator keeps running in
// the background if the deadline wins; it only observes ctx.
func (q *Queue) runCalculator(ctx context.Context, name string, calc Calculator, payload Payload, jctx JobContext, timeout time.Duration) outcome {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				q.log.Error("job.panic", logx.String("job", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				done <- outcome{err: &ExecutorError{Op: "run", Err: fmt.Errorf("calculator panic: %v", r)}}
			}
		}()
		res, err := calc(runCtx, payload, jctx)
		done <- outcome{result: res, err: err}
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		tmr := time.NewTimer(timeout)
		defer tmr.Stop()
		deadline = tmr.C
	}

	select {
	case out := <-done:
		// A calculator that returns the deadline error itself lost the race too.
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return outcome{err: fmt.Errorf("%w after %s", ErrTimeout, timeout), timedOut: true}
		}
		return out
	case <-deadline:
		return outcome{err: fmt.Errorf("%w after %s", ErrTimeout, timeout), timedOut: true}
	}
}

// finish records the outcome of an execution and applies the retry policy.
func (q *Queue) finish(j *job, w *worker, out outcome) {
	q.mu.Lock()
	now := time.Now()
	if w.gen == q.gen {
		q.active--
		if q.active <= 0 && q.drained != nil {
			close(q.drained)
			q.drained = nil
		}
	}
	if w.status == WorkerBusy && w.current == j.id {
		w.status = WorkerIdle
		w.current = ""
	}
	w.processed++
	w.lastActivity = now
	j.cancelRun = nil

	// Stop may already have force-cancelled the job.
	if j.status != StatusRunning {
		q.mu.Unlock()
		return
	}

	j.completedAt = now
	j.execTime = now.Sub(j.startedAt)

	var (
		evt     string
		retry   bool
		delay   time.Duration
		d       Deferrer
		stopped = q.state != stateRunning
	)
	switch {
	case j.cancelRequested:
		j.setStatus(StatusCancelled)
		j.errMsg = ErrCancelled.Error()
		evt = eventbus.JobCancelled
	case out.err == nil:
		j.setStatus(StatusCompleted)
		j.result = out.result
		j.progress = 100
		evt = eventbus.JobCompleted
	default:
		if out.timedOut {
			j.setStatus(StatusTimeout)
		} else {
			j.setStatus(StatusFailed)
		}
		j.errMsg = out.err.Error()
		evt = eventbus.JobFailed
		if !stopped && j.retryCount < j.maxRetries && IsRetryable(out.err) {
			retry = true
			delay = backoffDelay(q.cfg.RetryBaseDelay, j.retryCount)
			j.retryAt = now.Add(delay)
			d = q.deferrer
			evt = eventbus.JobRetry
		}
	}
	info := j.info()
	q.mu.Unlock()

	fields := []logx.Field{
		logx.String("job", info.Name),
		logx.String("id", info.ID),
		logx.Duration("dur", info.ExecutionTime),
		logx.Int("retry", info.RetryCount),
	}
	switch evt {
	case eventbus.JobCompleted:
		if info.ExecutionTime >= slowJobThreshold {
			q.log.Info("job.completed", fields...)
		} else {
			q.log.Debug("job.completed", fields...)
		}
	case eventbus.JobCancelled:
		q.log.Info("job.cancelled", fields...)
	case eventbus.JobRetry:
		q.log.Info("job.retry_scheduled", append(fields, logx.Duration("delay", delay), logx.String("err", info.Error))...)
	default:
		q.log.Warn("job.failed", append(fields, logx.String("status", string(info.Status)), logx.String("err", info.Error))...)
	}
	q.publish(evt, info)

	if retry {
		id := info.ID
		d.Defer(retryKey(id), info.RetryAt, func() { q.requeue(id) })
	}
}

func (q *Queue) setProgress(id string, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	q.mu.Lock()
	if j := q.jobs[id]; j != nil && j.status == StatusRunning {
		j.progress = pct
	}
	q.mu.Unlock()
}

type progressKey struct{}

func withProgress(ctx context.Context, fn func(int)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress records progress (0-100) for the job executing under ctx.
// It is a no-op outside a queue execution.
func ReportProgress(ctx context.Context, pct int) {
	if ctx == nil {
		return
	}
	if fn, ok := ctx.Value(progressKey{}).(func(int)); ok && fn != nil {
		fn(pct)
	}
}
