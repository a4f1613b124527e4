package season

import (
	"context"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

type SeasonSummary struct {
	SeasonID     int64   `json:"season_id"`
	Name         string  `json:"name"`
	Leagues      int     `json:"leagues"`
	Teams        int     `json:"teams"`
	Games        int     `json:"games"`
	Goals        int     `json:"goals"`
	GoalsPerGame float64 `json:"goals_per_game"`
	Champion     string  `json:"champion,omitempty"`
}

// Delta is the change of a season relative to the season before it in the
// comparison.
type Delta struct {
	SeasonID     int64   `json:"season_id"`
	Against      int64   `json:"against"`
	Teams        int     `json:"teams"`
	Games        int     `json:"games"`
	Goals        int     `json:"goals"`
	GoalsPerGame float64 `json:"goals_per_game"`
	GoalsChange  float64 `json:"goals_change_pct"`
}

// Comparison is the result of the season-comparison calculation.
type Comparison struct {
	Seasons      []SeasonSummary    `json:"seasons"`
	Deltas       []Delta            `json:"deltas"`
	TopScoring   int64              `json:"top_scoring_season,omitempty"`
	Errors       []calc.EntityError `json:"errors,omitempty"`
	Success      bool               `json:"success"`
	CalculatedAt time.Time          `json:"calculated_at"`
}

// CalculateComparison summarises each season and compares consecutive
// seasons in the given order. It reads only.
func (a *Adapter) CalculateComparison(ctx context.Context, p ComparisonPayload, _ queue.JobContext) (Comparison, error) {
	ids, err := distinctIDs(p.SeasonIDs)
	if err != nil {
		return Comparison{}, err
	}

	out := Comparison{
		Seasons:      []SeasonSummary{},
		Deltas:       []Delta{},
		CalculatedAt: a.Now(),
	}
	var bestRate float64
	for i, id := range ids {
		st, err := a.collect(ctx, id, false)
		if err != nil {
			if ctx.Err() != nil {
				return Comparison{}, ctx.Err()
			}
			out.Errors = append(out.Errors, calc.NewEntityError(store.Season, id, err))
			continue
		}
		out.Errors = append(out.Errors, st.Errors...)

		sum := SeasonSummary{
			SeasonID:     id,
			Name:         st.SeasonName,
			Leagues:      st.TotalLeagues,
			Teams:        st.TotalTeams,
			Games:        st.TotalGames,
			Goals:        st.TotalGoals,
			GoalsPerGame: st.GoalsPerGame,
		}
		if st.ChampionTeam != nil {
			sum.Champion = st.ChampionTeam.TeamName
		}
		if n := len(out.Seasons); n > 0 {
			prev := out.Seasons[n-1]
			out.Deltas = append(out.Deltas, Delta{
				SeasonID:     id,
				Against:      prev.SeasonID,
				Teams:        sum.Teams - prev.Teams,
				Games:        sum.Games - prev.Games,
				Goals:        sum.Goals - prev.Goals,
				GoalsPerGame: calc.Round(sum.GoalsPerGame-prev.GoalsPerGame, 2),
				GoalsChange:  calc.Percent(float64(sum.Goals-prev.Goals), float64(prev.Goals)),
			})
		}
		if out.TopScoring == 0 || sum.GoalsPerGame > bestRate {
			out.TopScoring = id
			bestRate = sum.GoalsPerGame
		}
		out.Seasons = append(out.Seasons, sum)
		queue.ReportProgress(ctx, (i+1)*100/len(ids))
	}
	out.Success = len(out.Errors) == 0

	a.Log.Info("season comparison calculated",
		logx.Int("seasons", len(out.Seasons)),
		logx.Int("errors", len(out.Errors)),
	)
	return out, nil
}

func distinctIDs(in []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, id := range in {
		if id <= 0 {
			return nil, calc.Invalid("invalid season id %d", id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) < 2 {
		return nil, calc.Invalid("comparison needs at least two seasons (got %d)", len(out))
	}
	return out, nil
}
