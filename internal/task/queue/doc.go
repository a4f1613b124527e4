// Package queue is the in-memory background job queue.
//
// The Queue owns every Job record. Callers interact with it only through
// Enqueue/Cancel/Retry and the read-only Get/List/Stats views:
//   - pending jobs are ordered by priority weight, FIFO within a tier
//   - a fixed number of logical workers bounds in-flight executions
//   - each execution races the calculator against the job timeout
//   - failed executions classified as transient are re-enqueued after an
//     exponential backoff (via a Deferrer, normally the scheduler)
//   - a periodic sweep evicts terminal jobs older than MaxJobAge
//
// Cancellation is cooperative: a running job is flagged and its context is
// canceled, but the executor still waits for the calculator to settle or for
// the deadline before freeing the worker.
package queue
