// Package team computes per-team statistics and head-to-head records.
package team

import (
	"fmt"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

const (
	CalcStatistics = "team-statistics"
	CalcHeadToHead = "team-head-to-head"
)

func DefaultCatalog() *calc.Catalog {
	return calc.NewCatalog(
		calc.Definition{
			Name:          CalcStatistics,
			Priority:      queue.PriorityMedium,
			DependsOn:     []string{store.Team, store.Match, store.TableEntry},
			Enabled:       true,
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
		},
		calc.Definition{
			Name:          CalcHeadToHead,
			Priority:      queue.PriorityLow,
			DependsOn:     []string{store.Team, store.Match},
			Enabled:       true,
			Timeout:       30 * time.Second,
			RetryAttempts: 1,
		},
	)
}

type StatisticsPayload struct {
	TeamID int64 `json:"team_id"`
}

func (StatisticsPayload) Kind() string { return CalcStatistics }

type HeadToHeadPayload struct {
	TeamID     int64 `json:"team_id"`
	OpponentID int64 `json:"opponent_id"`
}

func (HeadToHeadPayload) Kind() string { return CalcHeadToHead }

// Adapter schedules and runs team calculations.
type Adapter struct {
	calc.Base
}

func New(d calc.Deps) *Adapter {
	d.Log = d.Log.With(logx.String("comp", "calc.team"))
	return &Adapter{Base: calc.NewBase(d, DefaultCatalog())}
}

func (a *Adapter) Build(name string, t calc.Target, jc queue.JobContext) (queue.Spec, error) {
	switch name {
	case CalcStatistics:
		return a.statisticsSpec(t.TeamID, jc)
	case CalcHeadToHead:
		return a.headToHeadSpec(t.TeamID, t.OpponentID, jc)
	}
	return queue.Spec{}, fmt.Errorf("%w: %s", calc.ErrUnknownCalculation, name)
}

func (a *Adapter) statisticsSpec(teamID int64, jc queue.JobContext) (queue.Spec, error) {
	if jc.ContentType == "" {
		jc.ContentType = store.Team
	}
	if jc.OperationID == "" {
		jc.OperationID = calc.OperationID(teamID)
	}
	return a.Spec(CalcStatistics, StatisticsPayload{TeamID: teamID}, jc, queue.Typed(a.CalculateStatistics))
}

func (a *Adapter) headToHeadSpec(teamID, opponentID int64, jc queue.JobContext) (queue.Spec, error) {
	if jc.ContentType == "" {
		jc.ContentType = store.Team
	}
	if jc.OperationID == "" {
		jc.OperationID = calc.OperationID(teamID)
	}
	p := HeadToHeadPayload{TeamID: teamID, OpponentID: opponentID}
	return a.Spec(CalcHeadToHead, p, jc, queue.Typed(a.CalculateHeadToHead))
}

// ScheduleStatistics recomputes a team's statistics after delay. A pending
// run for the same team is replaced.
func (a *Adapter) ScheduleStatistics(teamID int64, delay time.Duration, jc queue.JobContext) (string, error) {
	spec, err := a.statisticsSpec(teamID, jc)
	if err != nil {
		return "", err
	}
	return a.ScheduleIn(calc.Key(CalcStatistics, teamID), delay, spec)
}

// ScheduleMatchUpdate recomputes both teams of a finished match.
func (a *Adapter) ScheduleMatchUpdate(homeID, awayID int64, delay time.Duration, jc queue.JobContext) ([]string, error) {
	var ids []string
	for _, teamID := range []int64{homeID, awayID} {
		id, err := a.ScheduleStatistics(teamID, delay, jc)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ScheduleHeadToHead compares two teams after delay.
func (a *Adapter) ScheduleHeadToHead(teamID, opponentID int64, delay time.Duration, jc queue.JobContext) (string, error) {
	spec, err := a.headToHeadSpec(teamID, opponentID, jc)
	if err != nil {
		return "", err
	}
	return a.ScheduleIn(calc.Key(CalcHeadToHead, teamID, opponentID), delay, spec)
}
