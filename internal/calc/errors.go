package calc

import (
	"errors"
	"fmt"

	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
)

// EntityError records a failure for one sub-entity of a multi-entity job.
type EntityError struct {
	UID   string `json:"uid"`
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

func NewEntityError(uid string, id int64, err error) EntityError {
	return EntityError{UID: uid, ID: id, Error: err.Error()}
}

// StoreErr wraps a content-store failure with op and classifies it: missing
// entities and unknown types are permanent, busy/locked databases transient.
// Anything else is left to the queue's retry policy.
func StoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	err = fmt.Errorf("%s: %w", op, err)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownType):
		return queue.Permanent(err)
	case store.IsTransient(err):
		return queue.Transient(err)
	}
	return err
}

// Invalid reports a precondition failure. It is never retried.
func Invalid(format string, args ...any) error {
	return queue.Permanent(fmt.Errorf(format, args...))
}
