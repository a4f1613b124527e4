// Package scheduler translates wall-clock time into queue enqueues.
//
// It never executes jobs itself. Entries are keyed by a caller-chosen name:
//   - once: a single timer; the entry is discarded when it fires
//   - recurring: first run at a given time, then every interval, optionally
//     capped by a run count after which the entry removes itself
//   - cron: config-driven schedules (cron expression, duration or HH:MM)
//   - retry: deferred re-enqueues requested by the queue's backoff policy
package scheduler
