package queue

import (
	"context"
	"sync"

	logx "clubqueue/pkg/logx"
)

var (
	defaultMu sync.Mutex
	defaultQ  *Queue
)

// Default returns the process-wide queue, constructing it with default
// settings on first use. Prefer passing a *Queue explicitly; Default exists
// for entrypoints that have no wiring of their own.
func Default() *Queue {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultQ == nil {
		defaultQ = New(Config{}, logx.Nop(), nil)
	}
	return defaultQ
}

// ResetDefault stops and discards the process-wide queue. Used for test isolation.
func ResetDefault(ctx context.Context) {
	defaultMu.Lock()
	q := defaultQ
	defaultQ = nil
	defaultMu.Unlock()
	if q != nil {
		q.Stop(ctx)
	}
}
