package queue

import "time"

// Stats aggregates over every known job. It does not mutate queue state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{
		Total:      len(q.jobs),
		ByStatus:   map[Status]int{},
		ByPriority: map[Priority]int{},
		ByType:     map[Type]int{},
		Workers:    len(q.workers),
	}
	var (
		execTotal time.Duration
		execN     int
	)
	for _, j := range q.jobs {
		st.ByStatus[j.status]++
		st.ByPriority[j.priority]++
		st.ByType[j.typ]++
		switch j.status {
		case StatusPending:
			st.Pending++
		case StatusRunning:
			st.Running++
		case StatusCompleted:
			st.Completed++
		case StatusFailed, StatusTimeout:
			st.Failed++
		case StatusCancelled:
			st.Cancelled++
		}
		if j.execTime > 0 {
			execTotal += j.execTime
			execN++
		}
	}
	if execN > 0 {
		st.AverageExecutionTime = execTotal / time.Duration(execN)
	}
	for _, w := range q.workers {
		if w.status == WorkerBusy {
			st.ActiveWorkers++
		}
	}
	return st
}
