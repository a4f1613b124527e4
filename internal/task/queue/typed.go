package queue

import (
	"context"
	"fmt"
)

// Typed adapts a calculator over a concrete payload and result type.
// A job whose payload is not a P fails permanently without calling fn.
func Typed[P Payload, R any](fn func(ctx context.Context, p P, jc JobContext) (R, error)) Calculator {
	return func(ctx context.Context, payload Payload, jc JobContext) (any, error) {
		p, ok := payload.(P)
		if !ok {
			var want P
			return nil, Permanent(fmt.Errorf("payload %T does not match calculator (want %T)", payload, want))
		}
		return fn(ctx, p, jc)
	}
}

// ResultAs extracts a typed result from a completed job.
func ResultAs[R any](info JobInfo) (R, bool) {
	r, ok := info.Result.(R)
	return r, ok
}
