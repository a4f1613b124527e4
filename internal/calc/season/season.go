// Package season computes season-wide statistics and season comparisons.
package season

import (
	"fmt"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

// Calculation names.
const (
	CalcStatistics = "season-statistics"
	CalcComparison = "season-comparison"
)

// DefaultCatalog returns the season calculations with their default settings.
func DefaultCatalog() *calc.Catalog {
	return calc.NewCatalog(
		calc.Definition{
			Name:          CalcStatistics,
			Priority:      queue.PriorityMedium,
			DependsOn:     []string{store.Season, store.League, store.TableEntry},
			Enabled:       true,
			Timeout:       60 * time.Second,
			RetryAttempts: 2,
		},
		calc.Definition{
			Name:          CalcComparison,
			Priority:      queue.PriorityLow,
			DependsOn:     []string{store.Season, store.League, store.TableEntry},
			Enabled:       true,
			Timeout:       2 * time.Minute,
			RetryAttempts: 1,
		},
	)
}

type StatisticsPayload struct {
	SeasonID int64 `json:"season_id"`
}

func (StatisticsPayload) Kind() string { return CalcStatistics }

type ComparisonPayload struct {
	SeasonIDs []int64 `json:"season_ids"`
}

func (ComparisonPayload) Kind() string { return CalcComparison }

// Adapter schedules and runs season calculations.
type Adapter struct {
	calc.Base
}

func New(d calc.Deps) *Adapter {
	d.Log = d.Log.With(logx.String("comp", "calc.season"))
	return &Adapter{Base: calc.NewBase(d, DefaultCatalog())}
}

// Build implements calc.Adapter.
func (a *Adapter) Build(name string, t calc.Target, jc queue.JobContext) (queue.Spec, error) {
	switch name {
	case CalcStatistics:
		return a.statisticsSpec(t.SeasonID, jc)
	case CalcComparison:
		return a.comparisonSpec(t.SeasonIDs, jc)
	}
	return queue.Spec{}, fmt.Errorf("%w: %s", calc.ErrUnknownCalculation, name)
}

func (a *Adapter) statisticsSpec(seasonID int64, jc queue.JobContext) (queue.Spec, error) {
	if jc.ContentType == "" {
		jc.ContentType = store.Season
	}
	if jc.OperationID == "" {
		jc.OperationID = calc.OperationID(seasonID)
	}
	return a.Spec(CalcStatistics, StatisticsPayload{SeasonID: seasonID}, jc, queue.Typed(a.CalculateStatistics))
}

func (a *Adapter) comparisonSpec(ids []int64, jc queue.JobContext) (queue.Spec, error) {
	if jc.ContentType == "" {
		jc.ContentType = store.Season
	}
	ids = append([]int64(nil), ids...)
	return a.Spec(CalcComparison, ComparisonPayload{SeasonIDs: ids}, jc, queue.Typed(a.CalculateComparison))
}

// ScheduleStatistics runs the statistics calculation for a season after
// delay. A pending run for the same season is replaced.
func (a *Adapter) ScheduleStatistics(seasonID int64, delay time.Duration, jc queue.JobContext) (string, error) {
	spec, err := a.statisticsSpec(seasonID, jc)
	if err != nil {
		return "", err
	}
	return a.ScheduleIn(calc.Key(CalcStatistics, seasonID), delay, spec)
}

// ScheduleRecurringStatistics recomputes a season's statistics every
// interval, starting at first. maxRuns <= 0 runs until cancelled.
func (a *Adapter) ScheduleRecurringStatistics(seasonID int64, first time.Time, every time.Duration, maxRuns int) (string, error) {
	spec, err := a.statisticsSpec(seasonID, queue.JobContext{Operation: "recurring"})
	if err != nil {
		return "", err
	}
	return a.ScheduleEvery(calc.Key(CalcStatistics+"-recurring", seasonID), first, every, spec, maxRuns)
}

// ScheduleComparison compares the given seasons after delay.
func (a *Adapter) ScheduleComparison(seasonIDs []int64, delay time.Duration, jc queue.JobContext) (string, error) {
	spec, err := a.comparisonSpec(seasonIDs, jc)
	if err != nil {
		return "", err
	}
	return a.ScheduleIn(calc.Key(CalcComparison, seasonIDs...), delay, spec)
}
