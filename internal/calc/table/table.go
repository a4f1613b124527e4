// Package table recomputes league tables from finished matches.
package table

import (
	"fmt"
	"sync"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

const (
	CalcLeagueTable = "league-table"
	CalcBatchUpdate = "table-batch-update"
)

func DefaultCatalog() *calc.Catalog {
	return calc.NewCatalog(
		calc.Definition{
			Name:          CalcLeagueTable,
			Priority:      queue.PriorityHigh,
			DependsOn:     []string{store.League, store.Match, store.TableEntry},
			Enabled:       true,
			Timeout:       60 * time.Second,
			RetryAttempts: 3,
		},
		calc.Definition{
			Name:          CalcBatchUpdate,
			Priority:      queue.PriorityLow,
			DependsOn:     []string{store.Season, store.League, store.Match, store.TableEntry},
			Enabled:       true,
			Timeout:       5 * time.Minute,
			RetryAttempts: 1,
		},
	)
}

type LeagueTablePayload struct {
	LeagueID int64 `json:"league_id"`
}

func (LeagueTablePayload) Kind() string { return CalcLeagueTable }

// BatchPayload names the leagues to update. With no LeagueIDs the leagues
// of SeasonID are used.
type BatchPayload struct {
	LeagueIDs []int64 `json:"league_ids,omitempty"`
	SeasonID  int64   `json:"season_id,omitempty"`
}

func (BatchPayload) Kind() string { return CalcBatchUpdate }

// Adapter schedules and runs table calculations.
type Adapter struct {
	calc.Base

	mu     sync.RWMutex
	policy calc.BatchPolicy
}

func New(d calc.Deps, policy calc.BatchPolicy) *Adapter {
	d.Log = d.Log.With(logx.String("comp", "calc.table"))
	return &Adapter{Base: calc.NewBase(d, DefaultCatalog()), policy: policy.WithDefaults()}
}

// SetBatchPolicy replaces the batch policy for jobs that start afterwards.
func (a *Adapter) SetBatchPolicy(p calc.BatchPolicy) {
	a.mu.Lock()
	a.policy = p.WithDefaults()
	a.mu.Unlock()
}

func (a *Adapter) BatchPolicy() calc.BatchPolicy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.policy
}

func (a *Adapter) Build(name string, t calc.Target, jc queue.JobContext) (queue.Spec, error) {
	switch name {
	case CalcLeagueTable:
		return a.leagueSpec(t.LeagueID, jc)
	case CalcBatchUpdate:
		return a.batchSpec(BatchPayload{LeagueIDs: t.LeagueIDs, SeasonID: t.SeasonID}, jc)
	}
	return queue.Spec{}, fmt.Errorf("%w: %s", calc.ErrUnknownCalculation, name)
}

func (a *Adapter) leagueSpec(leagueID int64, jc queue.JobContext) (queue.Spec, error) {
	if jc.ContentType == "" {
		jc.ContentType = store.League
	}
	if jc.OperationID == "" {
		jc.OperationID = calc.OperationID(leagueID)
	}
	return a.Spec(CalcLeagueTable, LeagueTablePayload{LeagueID: leagueID}, jc, queue.Typed(a.CalculateLeagueTable))
}

func (a *Adapter) batchSpec(p BatchPayload, jc queue.JobContext) (queue.Spec, error) {
	if jc.ContentType == "" {
		jc.ContentType = store.League
		if len(p.LeagueIDs) == 0 {
			jc.ContentType = store.Season
		}
	}
	if jc.OperationID == "" {
		jc.OperationID = calc.OperationID(p.SeasonID)
	}
	p.LeagueIDs = append([]int64(nil), p.LeagueIDs...)
	return a.Spec(CalcBatchUpdate, p, jc, queue.Typed(a.CalculateBatch))
}

// ScheduleLeagueTable recomputes one league table after delay. A pending
// run for the same league is replaced, so bursts of match updates collapse
// into one job.
func (a *Adapter) ScheduleLeagueTable(leagueID int64, delay time.Duration, jc queue.JobContext) (string, error) {
	spec, err := a.leagueSpec(leagueID, jc)
	if err != nil {
		return "", err
	}
	return a.ScheduleIn(calc.Key(CalcLeagueTable, leagueID), delay, spec)
}

// ScheduleBatchUpdate recomputes the given leagues in one paced job.
func (a *Adapter) ScheduleBatchUpdate(leagueIDs []int64, delay time.Duration, jc queue.JobContext) (string, error) {
	spec, err := a.batchSpec(BatchPayload{LeagueIDs: leagueIDs}, jc)
	if err != nil {
		return "", err
	}
	return a.ScheduleIn(calc.Key(CalcBatchUpdate, leagueIDs...), delay, spec)
}

// ScheduleSeasonTables recomputes every league of a season in one paced job.
func (a *Adapter) ScheduleSeasonTables(seasonID int64, delay time.Duration, jc queue.JobContext) (string, error) {
	spec, err := a.batchSpec(BatchPayload{SeasonID: seasonID}, jc)
	if err != nil {
		return "", err
	}
	return a.ScheduleIn(calc.Key(CalcBatchUpdate+"-season", seasonID), delay, spec)
}

// ScheduleRecurringSeasonTables recomputes a season's tables every interval.
func (a *Adapter) ScheduleRecurringSeasonTables(seasonID int64, first time.Time, every time.Duration, maxRuns int) (string, error) {
	spec, err := a.batchSpec(BatchPayload{SeasonID: seasonID}, queue.JobContext{Operation: "recurring"})
	if err != nil {
		return "", err
	}
	return a.ScheduleEvery(calc.Key(CalcBatchUpdate+"-recurring", seasonID), first, every, spec, maxRuns)
}
