package table

import (
	"context"
	"fmt"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

type LeagueResult struct {
	LeagueID int64 `json:"league_id"`
	Teams    int   `json:"teams"`
	Updated  int   `json:"updated"`
	Created  int   `json:"created"`
	Errors   int   `json:"errors"`
}

// BatchResult is the result of the table-batch-update calculation.
type BatchResult struct {
	Total     int                `json:"total"`
	Processed int                `json:"processed"`
	Failed    int                `json:"failed"`
	Leagues   []LeagueResult     `json:"leagues"`
	Errors    []calc.EntityError `json:"errors,omitempty"`

	// Success applies the batch threshold: the share of failed leagues
	// must stay below Threshold.
	Success   bool    `json:"success"`
	Threshold float64 `json:"threshold"`

	CalculatedAt time.Time `json:"calculated_at"`
}

// CalculateBatch recomputes many league tables in paced sub-batches. A
// failing league is recorded and its siblings continue.
func (a *Adapter) CalculateBatch(ctx context.Context, p BatchPayload, _ queue.JobContext) (BatchResult, error) {
	ids, err := a.batchLeagues(ctx, p)
	if err != nil {
		return BatchResult{}, err
	}
	policy := a.BatchPolicy()
	res := BatchResult{
		Total:        len(ids),
		Leagues:      []LeagueResult{},
		Threshold:    policy.SuccessThreshold,
		CalculatedAt: a.Now(),
	}

	pacer := policy.NewPacer()
	for _, chunk := range policy.Chunks(ids) {
		if err := pacer.Wait(ctx); err != nil {
			return BatchResult{}, err
		}
		for _, id := range chunk {
			t, err := a.updateLeague(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return BatchResult{}, ctx.Err()
				}
				res.Failed++
				res.Errors = append(res.Errors, calc.NewEntityError(store.League, id, err))
				a.Log.Debug("league table failed", logx.Int64("league", id), logx.Err(err))
			} else {
				res.Leagues = append(res.Leagues, LeagueResult{
					LeagueID: id,
					Teams:    len(t.Rows),
					Updated:  t.Updated,
					Created:  t.Created,
					Errors:   len(t.Errors),
				})
				res.Errors = append(res.Errors, t.Errors...)
			}
			res.Processed++
			queue.ReportProgress(ctx, res.Processed*100/res.Total)
		}
	}
	res.Success = policy.Success(res.Total, res.Failed)

	lvl := a.Log.Info
	if !res.Success {
		lvl = a.Log.Warn
	}
	lvl("table batch finished",
		logx.Int("leagues", res.Total),
		logx.Int("failed", res.Failed),
		logx.Float64("threshold", res.Threshold),
		logx.Bool("success", res.Success),
	)
	return res, nil
}

// batchLeagues resolves and de-duplicates the leagues of a batch.
func (a *Adapter) batchLeagues(ctx context.Context, p BatchPayload) ([]int64, error) {
	ids := p.LeagueIDs
	if len(ids) == 0 {
		if err := calc.RequireID("season", p.SeasonID); err != nil {
			return nil, calc.Invalid("batch needs league ids or a season id")
		}
		season, err := a.Store.FindOne(ctx, store.Season, p.SeasonID)
		if err != nil {
			return nil, calc.StoreErr(fmt.Sprintf("find season %d", p.SeasonID), err)
		}
		ids = season.IDs("ligen")
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, calc.Invalid("invalid league id %d", id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, calc.Invalid("batch has no leagues")
	}
	return out, nil
}
