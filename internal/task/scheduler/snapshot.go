package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	tz := s.cfg.Timezone
	loc := s.loc
	c := s.c
	items := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := EntryInfo{Key: d.key, Kind: d.kind, Spec: d.spec, Every: d.every, Runs: d.runs}
		if d.maxRuns > 0 {
			it.RunsLeft = d.maxRuns - d.runs
		}
		if d.pendingFirst {
			it.JobID = d.firstID
		}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	retries := 0
	s.tmu.Lock()
	for _, d := range s.once {
		if d.kind == KindRetry {
			retries++
		}
		it := EntryInfo{Key: d.key, Kind: d.kind, Next: d.at}
		if d.kind == KindOnce {
			it.JobID = d.job.ID
		}
		items = append(items, it)
	}
	s.tmu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	return Snapshot{
		Running:        c != nil,
		Timezone:       tz,
		Entries:        items,
		PendingRetries: retries,
	}
}
