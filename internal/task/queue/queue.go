package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"clubqueue/internal/eventbus"
	rtsup "clubqueue/internal/runtime/supervisor"
	logx "clubqueue/pkg/logx"
)

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

type worker struct {
	id           int
	gen          uint64 // pool generation, bumped by every Start
	status       WorkerStatus
	current      string
	processed    int
	startedAt    time.Time
	lastActivity time.Time
}

// Queue is the in-memory job queue and worker pool.
type Queue struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	deferrer Deferrer

	jobs    map[string]*job
	pending pendingList
	workers []*worker

	state   state
	gen     uint64
	active  int // executions of the current pool generation
	drained chan struct{}
	sup     *rtsup.Supervisor
}

// Option configures a Queue.
type Option func(*Queue)

// WithDeferrer routes retry re-enqueues through d (normally the scheduler).
func WithDeferrer(d Deferrer) Option {
	return func(q *Queue) {
		if d != nil {
			q.deferrer = d
		}
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Queue{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		deferrer: newTimerDeferrer(),
		jobs:     make(map[string]*job),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// SetDeferrer swaps the retry deferrer. Retries already armed keep their old deferrer.
func (q *Queue) SetDeferrer(d Deferrer) {
	if d == nil {
		return
	}
	q.mu.Lock()
	q.deferrer = d
	q.mu.Unlock()
}

func (q *Queue) Config() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// Start creates the worker pool, starts the cleanup sweep and dispatches any
// jobs that were enqueued before Start. It is idempotent.
func (q *Queue) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	if q.state != stateIdle {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	q.gen++
	q.workers = make([]*worker, q.cfg.Workers)
	for i := range q.workers {
		q.workers[i] = &worker{id: i + 1, gen: q.gen, status: WorkerIdle, startedAt: now, lastActivity: now}
	}
	q.state = stateRunning
	q.sup = rtsup.New(ctx, rtsup.WithLogger(q.log.With(logx.String("comp", "queue"))))
	sup := q.sup
	cfg := q.cfg
	q.mu.Unlock()

	sup.GoRestart("cleanup", q.cleanupLoop)

	q.log.Info("queue started", logx.Int("workers", cfg.Workers), logx.Int("max_queue_size", cfg.MaxQueueSize))
	q.dispatch()
}

// Stop waits (bounded by StopTimeout and ctx) for in-flight jobs to finish,
// then marks jobs still running as cancelled. Pending jobs stay pending.
func (q *Queue) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	q.mu.Lock()
	if q.state != stateRunning {
		q.mu.Unlock()
		return
	}
	q.state = stateStopping
	sup := q.sup
	q.sup = nil
	var drained chan struct{}
	if q.active > 0 {
		drained = make(chan struct{})
		q.drained = drained
	}
	inflight := q.active
	timeout := q.cfg.StopTimeout
	q.mu.Unlock()

	q.log.Info("queue stopping", logx.Int("in_flight", inflight))
	if sup != nil {
		_ = sup.Stop(ctx)
	}

	if drained != nil {
		tmr := time.NewTimer(timeout)
		select {
		case <-drained:
		case <-tmr.C:
			q.log.Warn("queue stop timed out waiting for jobs", logx.Duration("timeout", timeout))
		case <-ctx.Done():
			q.log.Warn("queue stop interrupted", logx.Err(ctx.Err()))
		}
		tmr.Stop()
	}

	var forced []JobInfo
	q.mu.Lock()
	now := time.Now()
	for _, j := range q.jobs {
		if j.status != StatusRunning {
			continue
		}
		j.cancelRequested = true
		if j.cancelRun != nil {
			j.cancelRun()
		}
		j.setStatus(StatusCancelled)
		j.completedAt = now
		j.execTime = now.Sub(j.startedAt)
		j.errMsg = "job cancelled: queue stopped"
		forced = append(forced, j.info())
	}
	for _, w := range q.workers {
		w.status = WorkerStopped
		w.current = ""
	}
	// Executions abandoned above finish against an old generation and no
	// longer count toward the next Stop.
	q.active = 0
	q.drained = nil
	q.state = stateIdle
	q.mu.Unlock()

	for _, info := range forced {
		q.log.Warn("job.cancelled", logx.String("job", info.Name), logx.String("id", info.ID), logx.String("reason", "queue stopped"))
		q.publish(eventbus.JobCancelled, info)
	}
	q.log.Info("queue stopped", logx.Duration("took", time.Since(start)), logx.Int("forced_cancel", len(forced)))
}

// Enqueue validates spec, records the job as pending and triggers a dispatch.
func (q *Queue) Enqueue(spec Spec) (string, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if spec.Calculator == nil {
		return "", fmt.Errorf("%w: calculator is required", ErrInvalidSpec)
	}

	now := time.Now()
	jctx := spec.Context
	if jctx.Timestamp.IsZero() {
		jctx.Timestamp = now
	}
	typ := spec.Type
	if typ == "" {
		typ = TypeCalculation
	}

	q.mu.Lock()
	if q.state == stateStopping {
		q.mu.Unlock()
		return "", ErrStopping
	}
	if q.pending.Len() >= q.cfg.MaxQueueSize {
		ql, qc := q.pending.Len(), q.cfg.MaxQueueSize
		q.mu.Unlock()
		q.log.Warn("job rejected: queue full", logx.String("job", name), logx.Int("queue_len", ql), logx.Int("queue_cap", qc))
		return "", ErrQueueFull
	}

	id := strings.TrimSpace(spec.ID)
	if id != "" {
		if _, exists := q.jobs[id]; exists {
			q.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
	} else {
		for {
			id = NewJobID(name, jctx.OperationID, now)
			if _, exists := q.jobs[id]; !exists {
				break
			}
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = q.cfg.DefaultTimeout
	}
	maxRetries := spec.MaxRetries
	if maxRetries == 0 {
		maxRetries = q.cfg.DefaultMaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	j := &job{
		id:         id,
		name:       name,
		typ:        typ,
		priority:   spec.Priority.normalize(),
		status:     StatusPending,
		payload:    spec.Payload,
		jctx:       jctx,
		calc:       spec.Calculator,
		timeout:    timeout,
		maxRetries: maxRetries,
		createdAt:  now,
		worker:     -1,
	}
	q.jobs[id] = j
	q.pending.Insert(j)
	info := j.info()
	q.mu.Unlock()

	q.log.Debug("job.enqueued", logx.String("job", name), logx.String("id", id), logx.String("priority", string(info.Priority)))
	q.publish(eventbus.JobEnqueued, info)
	q.dispatch()
	return id, nil
}

// Cancel cancels a pending job immediately, or flags a running job so that
// its outcome is reported as cancelled. A failed job waiting for a retry has
// its retry disarmed. It returns false for unknown or finished jobs.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	j := q.jobs[id]
	if j == nil {
		q.mu.Unlock()
		return false
	}
	now := time.Now()
	var info JobInfo
	switch j.status {
	case StatusPending:
		q.pending.Remove(id)
		j.setStatus(StatusCancelled)
		j.completedAt = now
		j.errMsg = ErrCancelled.Error()
		info = j.info()
	case StatusRunning:
		j.cancelRequested = true
		if j.cancelRun != nil {
			j.cancelRun()
		}
		q.mu.Unlock()
		q.log.Info("job cancel requested", logx.String("job", j.name), logx.String("id", id))
		return true
	case StatusFailed, StatusTimeout:
		if j.retryAt.IsZero() {
			q.mu.Unlock()
			return false
		}
		d := q.deferrer
		j.retryAt = time.Time{}
		j.setStatus(StatusCancelled)
		j.errMsg = ErrCancelled.Error()
		info = j.info()
		q.mu.Unlock()
		d.CancelDeferred(retryKey(id))
		q.log.Info("job.cancelled", logx.String("job", info.Name), logx.String("id", id), logx.String("reason", "retry disarmed"))
		q.publish(eventbus.JobCancelled, info)
		return true
	default:
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()

	q.log.Info("job.cancelled", logx.String("job", info.Name), logx.String("id", id))
	q.publish(eventbus.JobCancelled, info)
	return true
}

// Get returns a snapshot of the job, or false if it is unknown.
func (q *Queue) Get(id string) (JobInfo, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs[id]
	if j == nil {
		return JobInfo{}, false
	}
	return j.info(), true
}

// List returns jobs matching f, most recent first.
func (q *Queue) List(f Filter) []JobInfo {
	prefix := strings.TrimSpace(f.NamePrefix)
	q.mu.Lock()
	out := make([]JobInfo, 0, len(q.jobs))
	for _, j := range q.jobs {
		if f.Status != "" && j.status != f.Status {
			continue
		}
		if f.Type != "" && j.typ != f.Type {
			continue
		}
		if f.Priority != "" && j.priority != f.Priority {
			continue
		}
		if prefix != "" && !strings.HasPrefix(j.name, prefix) {
			continue
		}
		out = append(out, j.info())
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID > out[k].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// PendingIDs returns pending job ids in dispatch order.
func (q *Queue) PendingIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.IDs()
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	ws := make([]WorkerInfo, 0, len(q.workers))
	for _, w := range q.workers {
		ws = append(ws, WorkerInfo{
			ID:           w.id,
			Status:       w.status,
			CurrentJob:   w.current,
			Processed:    w.processed,
			StartedAt:    w.startedAt,
			LastActivity: w.lastActivity,
		})
	}
	retrying := 0
	for _, j := range q.jobs {
		if !j.retryAt.IsZero() {
			retrying++
		}
	}
	return Snapshot{
		Running:        q.state == stateRunning,
		Workers:        ws,
		QueueLen:       q.pending.Len(),
		QueueCap:       q.cfg.MaxQueueSize,
		PendingRetry:   retrying,
		DefaultTimeout: q.cfg.DefaultTimeout,
		RetryMax:       q.cfg.DefaultMaxRetries,
		RetryBase:      q.cfg.RetryBaseDelay,
	}
}

func (q *Queue) publish(typ string, info JobInfo) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: info})
}
