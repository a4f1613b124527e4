package calc

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultSuccessThreshold = 0.5
	DefaultBatchSize        = 5
	DefaultBatchPace        = 100 * time.Millisecond
)

// BatchPolicy controls multi-entity jobs.
type BatchPolicy struct {
	// SuccessThreshold is the failure ratio at which a batch stops counting
	// as successful: success means failed/total < SuccessThreshold.
	SuccessThreshold float64

	// Size is the number of entities handled per sub-batch.
	Size int

	// Pace is the minimum gap between sub-batches.
	Pace time.Duration
}

func (p BatchPolicy) WithDefaults() BatchPolicy {
	if p.SuccessThreshold <= 0 || p.SuccessThreshold > 1 {
		p.SuccessThreshold = DefaultSuccessThreshold
	}
	if p.Size <= 0 {
		p.Size = DefaultBatchSize
	}
	if p.Pace < 0 {
		p.Pace = 0
	}
	return p
}

// Success applies the partial-success rule. An empty batch succeeds.
func (p BatchPolicy) Success(total, failed int) bool {
	if total <= 0 {
		return true
	}
	p = p.WithDefaults()
	return float64(failed)/float64(total) < p.SuccessThreshold
}

// Chunks splits ids into sub-batches of Size.
func (p BatchPolicy) Chunks(ids []int64) [][]int64 {
	p = p.WithDefaults()
	var out [][]int64
	for len(ids) > 0 {
		n := min(p.Size, len(ids))
		out = append(out, ids[:n:n])
		ids = ids[n:]
	}
	return out
}

// Pacer spaces sub-batches so a batch job does not saturate the store.
type Pacer struct {
	lim *rate.Limiter
}

func (p BatchPolicy) NewPacer() *Pacer {
	p = p.WithDefaults()
	if p.Pace <= 0 {
		return &Pacer{}
	}
	return &Pacer{lim: rate.NewLimiter(rate.Every(p.Pace), 1)}
}

// Wait blocks until the next sub-batch may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.lim == nil {
		return ctx.Err()
	}
	return p.lim.Wait(ctx)
}
