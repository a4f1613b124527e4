package team

import (
	"context"
	"fmt"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

const formLength = 5

// Split is a home or away record.
type Split struct {
	Played       int `json:"played"`
	Won          int `json:"won"`
	Drawn        int `json:"drawn"`
	Lost         int `json:"lost"`
	GoalsFor     int `json:"goals_for"`
	GoalsAgainst int `json:"goals_against"`
	Points       int `json:"points"`
}

func (s *Split) add(gf, ga int) {
	s.Played++
	s.GoalsFor += gf
	s.GoalsAgainst += ga
	switch {
	case gf > ga:
		s.Won++
		s.Points += calc.PointsWin
	case gf == ga:
		s.Drawn++
		s.Points += calc.PointsDraw
	default:
		s.Lost++
	}
}

// Statistics is the result of the team-statistics calculation.
type Statistics struct {
	TeamID     int64  `json:"team_id"`
	TeamName   string `json:"team_name"`
	LeagueID   int64  `json:"league_id,omitempty"`
	LeagueName string `json:"league_name,omitempty"`

	Played       int `json:"played"`
	Won          int `json:"won"`
	Drawn        int `json:"drawn"`
	Lost         int `json:"lost"`
	GoalsFor     int `json:"goals_for"`
	GoalsAgainst int `json:"goals_against"`
	GoalDiff     int `json:"goal_diff"`
	Points       int `json:"points"`
	CleanSheets  int `json:"clean_sheets"`

	WinRate             float64 `json:"win_rate"`
	PointsPerGame       float64 `json:"points_per_game"`
	GoalsForPerGame     float64 `json:"goals_for_per_game"`
	GoalsAgainstPerGame float64 `json:"goals_against_per_game"`

	Home Split `json:"home"`
	Away Split `json:"away"`

	// Form holds the latest results, newest first: S (win), U (draw), N (loss).
	Form []string `json:"form"`

	TablePosition int `json:"table_position,omitempty"`

	Errors       []calc.EntityError `json:"errors,omitempty"`
	Success      bool               `json:"success"`
	CalculatedAt time.Time          `json:"calculated_at"`
}

// CalculateStatistics aggregates a team's finished matches and writes the
// record back to the team as "statistiken".
func (a *Adapter) CalculateStatistics(ctx context.Context, p StatisticsPayload, _ queue.JobContext) (Statistics, error) {
	if err := calc.RequireID("team", p.TeamID); err != nil {
		return Statistics{}, err
	}
	t, err := a.Store.FindOne(ctx, store.Team, p.TeamID, "liga")
	if err != nil {
		return Statistics{}, calc.StoreErr(fmt.Sprintf("find team %d", p.TeamID), err)
	}
	st := Statistics{
		TeamID:       p.TeamID,
		TeamName:     t.Str("name"),
		LeagueID:     t.RefID("liga"),
		LeagueName:   t.Str("liga.name"),
		Form:         []string{},
		CalculatedAt: a.Now(),
	}

	matches, err := a.teamMatches(ctx, p.TeamID)
	if err != nil {
		return Statistics{}, calc.StoreErr(fmt.Sprintf("load matches of team %d", p.TeamID), err)
	}
	queue.ReportProgress(ctx, 40)

	for _, m := range matches {
		gf, ga, home := m.For(p.TeamID)
		if home {
			st.Home.add(gf, ga)
		} else {
			st.Away.add(gf, ga)
		}
		if ga == 0 {
			st.CleanSheets++
		}
	}
	for i := len(matches) - 1; i >= 0 && len(st.Form) < formLength; i-- {
		gf, ga, _ := matches[i].For(p.TeamID)
		st.Form = append(st.Form, formLetter(gf, ga))
	}

	st.Played = st.Home.Played + st.Away.Played
	st.Won = st.Home.Won + st.Away.Won
	st.Drawn = st.Home.Drawn + st.Away.Drawn
	st.Lost = st.Home.Lost + st.Away.Lost
	st.GoalsFor = st.Home.GoalsFor + st.Away.GoalsFor
	st.GoalsAgainst = st.Home.GoalsAgainst + st.Away.GoalsAgainst
	st.GoalDiff = st.GoalsFor - st.GoalsAgainst
	st.Points = st.Home.Points + st.Away.Points

	played := float64(st.Played)
	st.WinRate = calc.Percent(float64(st.Won), played)
	st.PointsPerGame = calc.Round(calc.SafeDiv(float64(st.Points), played), 2)
	st.GoalsForPerGame = calc.Round(calc.SafeDiv(float64(st.GoalsFor), played), 2)
	st.GoalsAgainstPerGame = calc.Round(calc.SafeDiv(float64(st.GoalsAgainst), played), 2)

	// The table position is supplementary: a failed lookup is recorded, not fatal.
	filters := map[string]any{"mannschaft": p.TeamID}
	if st.LeagueID > 0 {
		filters["liga"] = st.LeagueID
	}
	entries, err := a.Store.FindMany(ctx, store.TableEntry, store.Query{Filters: filters, Limit: 1})
	switch {
	case err != nil:
		st.Errors = append(st.Errors, calc.NewEntityError(store.TableEntry, p.TeamID, err))
	case len(entries) > 0:
		st.TablePosition = entries[0].Int("platz")
	}
	queue.ReportProgress(ctx, 80)

	if _, err := a.Store.Update(ctx, store.Team, p.TeamID, map[string]any{"statistiken": st.record()}); err != nil {
		return st, calc.StoreErr(fmt.Sprintf("save team %d statistics", p.TeamID), err)
	}
	st.Success = len(st.Errors) == 0

	a.Log.Debug("team statistics calculated",
		logx.Int64("team", p.TeamID),
		logx.Int("played", st.Played),
		logx.Int("points", st.Points),
	)
	return st, nil
}

// teamMatches returns the team's finished home and away matches, oldest first.
func (a *Adapter) teamMatches(ctx context.Context, teamID int64) ([]calc.Match, error) {
	home, err := calc.FinishedMatches(ctx, a.Store, map[string]any{"heim_mannschaft": teamID})
	if err != nil {
		return nil, err
	}
	away, err := calc.FinishedMatches(ctx, a.Store, map[string]any{"gast_mannschaft": teamID})
	if err != nil {
		return nil, err
	}
	all := append(home, away...)
	calc.SortMatches(all)
	return all, nil
}

func formLetter(gf, ga int) string {
	switch {
	case gf > ga:
		return "S"
	case gf == ga:
		return "U"
	default:
		return "N"
	}
}

func (st Statistics) record() map[string]any {
	return map[string]any{
		"spiele":        st.Played,
		"siege":         st.Won,
		"unentschieden": st.Drawn,
		"niederlagen":   st.Lost,
		"tore":          st.GoalsFor,
		"gegentore":     st.GoalsAgainst,
		"tordifferenz":  st.GoalDiff,
		"punkte":        st.Points,
		"zu_null":       st.CleanSheets,
		"siegquote":     st.WinRate,
		"form":          st.Form,
		"platz":         st.TablePosition,
		"berechnet_am":  st.CalculatedAt.UTC().Format(time.RFC3339),
	}
}
