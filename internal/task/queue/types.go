package queue

import (
	"context"
	"time"
)

// Config controls the queue.
type Config struct {
	Workers      int
	MaxQueueSize int

	// DefaultTimeout is used when Spec.Timeout is 0.
	DefaultTimeout time.Duration

	// DefaultMaxRetries is used when Spec.MaxRetries is 0.
	DefaultMaxRetries int

	// RetryBaseDelay is the first backoff step: delay = base * 2^retryCount.
	RetryBaseDelay time.Duration

	CleanupInterval time.Duration
	MaxJobAge       time.Duration

	// StopTimeout bounds how long Stop waits for in-flight jobs.
	StopTimeout time.Duration
}

const (
	defaultWorkers         = 3
	defaultMaxQueueSize    = 100
	defaultTimeout         = 30 * time.Second
	defaultMaxRetries      = 3
	defaultRetryBaseDelay  = time.Second
	defaultCleanupInterval = 5 * time.Minute
	defaultMaxJobAge       = time.Hour
	defaultStopTimeout     = 30 * time.Second

	slowJobThreshold = 750 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultTimeout
	}
	if c.DefaultMaxRetries == 0 {
		c.DefaultMaxRetries = defaultMaxRetries
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	if c.MaxJobAge <= 0 {
		c.MaxJobAge = defaultMaxJobAge
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	return c
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no execution is in progress or queued for s.
// Failed and timed-out jobs may still be recycled by a retry.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// IsFailure reports whether s is a failure (timeout is a failure variant).
func (s Status) IsFailure() bool { return s == StatusFailed || s == StatusTimeout }

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight orders priorities: lower sorts earlier.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

func (p Priority) normalize() Priority {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p
	}
	return PriorityMedium
}

type Type string

const (
	TypeCalculation  Type = "calculation"
	TypeMaintenance  Type = "maintenance"
	TypeNotification Type = "notification"
)

// JobContext is correlation metadata threaded through a job for traceability.
type JobContext struct {
	ContentType string    `json:"content_type,omitempty"`
	Operation   string    `json:"operation,omitempty"`
	OperationID string    `json:"operation_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Payload is the input of a calculator. Each calculation kind defines its own
// payload type; Kind names the calculation it belongs to.
type Payload interface {
	Kind() string
}

// Calculator is the domain function wrapped by a job.
//
// ctx carries the job deadline and is canceled when the job is cancelled.
// Use ReportProgress(ctx, pct) to publish progress.
type Calculator func(ctx context.Context, payload Payload, jc JobContext) (any, error)

// Spec describes a job to enqueue.
type Spec struct {
	// ID is optional. When empty a new id is derived from Name, the
	// operation id, the current time and a random suffix.
	ID string

	Name       string
	Type       Type
	Priority   Priority
	Payload    Payload
	Context    JobContext
	Calculator Calculator

	// Timeout defaults to Config.DefaultTimeout when 0.
	Timeout time.Duration

	// MaxRetries defaults to Config.DefaultMaxRetries when 0. Negative disables retries.
	MaxRetries int
}

// JobInfo is a point-in-time view of a job.
type JobInfo struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Type       Type          `json:"type"`
	Priority   Priority      `json:"priority"`
	Status     Status        `json:"status"`
	Payload    Payload       `json:"payload,omitempty"`
	Context    JobContext    `json:"context"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	RetryCount int           `json:"retry_count"`
	Progress   int           `json:"progress"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// ExecutionTime is the wall-clock time from dispatch to outcome.
	ExecutionTime time.Duration `json:"execution_time"`

	// RetryAt is set while a failed job waits for its backoff re-enqueue.
	RetryAt time.Time `json:"retry_at,omitempty"`

	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	CancelRequested bool `json:"cancel_requested,omitempty"`
}

type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerStopped WorkerStatus = "stopped"
)

type WorkerInfo struct {
	ID           int          `json:"id"`
	Status       WorkerStatus `json:"status"`
	CurrentJob   string       `json:"current_job,omitempty"`
	Processed    int          `json:"processed"`
	StartedAt    time.Time    `json:"started_at"`
	LastActivity time.Time    `json:"last_activity"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status     Status
	Type       Type
	Priority   Priority
	NamePrefix string
	Limit      int
}

// Stats is an aggregate view over all known jobs.
type Stats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"by_status"`
	ByPriority map[Priority]int `json:"by_priority"`
	ByType     map[Type]int     `json:"by_type"`

	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	AverageExecutionTime time.Duration `json:"average_execution_time"`

	Workers       int `json:"workers"`
	ActiveWorkers int `json:"active_workers"`
}

// Snapshot is a lightweight view of the queue for diagnostics.
type Snapshot struct {
	Running      bool
	Workers      []WorkerInfo
	QueueLen     int
	QueueCap     int
	PendingRetry int

	DefaultTimeout time.Duration
	RetryMax       int
	RetryBase      time.Duration
}
