package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// job is the authoritative record owned by the Queue. All fields are guarded by Queue.mu.
type job struct {
	id       string
	name     string
	typ      Type
	priority Priority
	status   Status

	payload Payload
	jctx    JobContext
	calc    Calculator

	timeout    time.Duration
	maxRetries int
	retryCount int

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	execTime    time.Duration
	retryAt     time.Time

	result   any
	errMsg   string
	progress int

	cancelRequested bool
	cancelRun       context.CancelFunc
	worker          int
}

// transitions lists the allowed status changes.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled},
	StatusFailed:  {StatusPending, StatusCancelled},
	StatusTimeout: {StatusPending, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// setStatus moves j along the state machine. Invalid moves are refused.
func (j *job) setStatus(to Status) bool {
	if !canTransition(j.status, to) {
		return false
	}
	j.status = to
	return true
}

// recycle resets a failed job for another attempt.
func (j *job) recycle() bool {
	if j.retryCount >= j.maxRetries || !j.setStatus(StatusPending) {
		return false
	}
	j.retryCount++
	j.startedAt = time.Time{}
	j.completedAt = time.Time{}
	j.retryAt = time.Time{}
	j.execTime = 0
	j.result = nil
	j.errMsg = ""
	j.progress = 0
	j.worker = -1
	return true
}

func (j *job) info() JobInfo {
	return JobInfo{
		ID:              j.id,
		Name:            j.name,
		Type:            j.typ,
		Priority:        j.priority,
		Status:          j.status,
		Payload:         j.payload,
		Context:         j.jctx,
		Timeout:         j.timeout,
		MaxRetries:      j.maxRetries,
		RetryCount:      j.retryCount,
		Progress:        j.progress,
		CreatedAt:       j.createdAt,
		StartedAt:       j.startedAt,
		CompletedAt:     j.completedAt,
		ExecutionTime:   j.execTime,
		RetryAt:         j.retryAt,
		Result:          j.result,
		Error:           j.errMsg,
		CancelRequested: j.cancelRequested,
	}
}

// NewJobID derives a job id from the job name, the operation id and the
// current time, plus a random suffix.
func NewJobID(name, operationID string, now time.Time) string {
	var b strings.Builder
	b.WriteString(slug(name))
	if op := slug(operationID); op != "" {
		b.WriteString("_")
		b.WriteString(op)
	}
	fmt.Fprintf(&b, "_%d_%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return b.String()
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
