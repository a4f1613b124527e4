package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	ErrQueueFull    = errors.New("job queue full")
	ErrStopping     = errors.New("job queue stopping")
	ErrNotFound     = errors.New("job not found")
	ErrInvalidSpec  = errors.New("invalid job spec")
	ErrDuplicateID  = errors.New("job id already exists")
	ErrNotRetryable = errors.New("job not retryable")
	ErrTimeout      = errors.New("job timeout")
	ErrCancelled    = errors.New("job cancelled")
)

// Transient marks an error as worth retrying (e.g. a flaky downstream read).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err is wrapped with Transient.
func IsTransient(err error) bool {
	var e transientError
	return errors.As(err, &e)
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable.
//
// Calculators wrap validation errors or other permanent failures with
// Permanent so the queue won't waste time retrying.
//
// Example:
//
//	return nil, queue.Permanent(fmt.Errorf("season id required"))
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// ExecutorError is produced by the queue's own execution path (e.g. a
// recovered calculator panic) rather than by the calculator's result.
type ExecutorError struct {
	Op  string
	Err error
}

func (e *ExecutorError) Error() string { return fmt.Sprintf("executor %s: %v", e.Op, e.Err) }
func (e *ExecutorError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed execution should be retried.
//
// Retry is recommended for timeouts, network/connection failures, errors
// explicitly marked Transient and failures of the executor itself.
// Application errors are not retried unless marked Transient; Permanent
// and cancellation always win.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) || errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	if IsTransient(err) {
		return true
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ee *ExecutorError
	return errors.As(err, &ee)
}
