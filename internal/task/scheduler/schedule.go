package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"
)

// intervalSchedule fires at first and then on the grid first + k*every.
// Unlike cron.Every it keeps sub-second intervals.
type intervalSchedule struct {
	first time.Time
	every time.Duration
}

func (s *intervalSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	k := t.Sub(s.first)/s.every + 1
	return s.first.Add(k * s.every)
}

const maxStartupSpread = 30 * time.Second

var spreadSeq uint64

// spreadFirstRun picks the first run of a config-driven interval entry: one
// interval from now plus a random delay, so entries registered together at
// startup do not fire together.
func spreadFirstRun(every time.Duration, now time.Time, tag string) (time.Time, time.Duration) {
	spreadMax := every
	if spreadMax > maxStartupSpread {
		spreadMax = maxStartupSpread
	}
	if spreadMax <= 0 {
		return now.Add(every), 0
	}
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	jitter := time.Duration(rng.Int63n(int64(spreadMax)))
	return now.Add(every + jitter), jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
