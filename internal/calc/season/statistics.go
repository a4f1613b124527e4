package season

import (
	"context"
	"fmt"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

type LeagueSummary struct {
	LeagueID     int64   `json:"league_id"`
	Name         string  `json:"name"`
	Teams        int     `json:"teams"`
	Games        int     `json:"games"`
	Goals        int     `json:"goals"`
	GoalsPerGame float64 `json:"goals_per_game"`
	Leader       string  `json:"leader,omitempty"`
}

// Champion is the best table entry across all leagues of a season.
type Champion struct {
	TeamID     int64  `json:"team_id"`
	TeamName   string `json:"team_name"`
	LeagueID   int64  `json:"league_id"`
	LeagueName string `json:"league_name"`
	Points     int    `json:"points"`
	GoalDiff   int    `json:"goal_diff"`
	GoalsFor   int    `json:"goals_for"`
}

// Statistics is the result of the season-statistics calculation.
type Statistics struct {
	SeasonID     int64              `json:"season_id"`
	SeasonName   string             `json:"season_name"`
	TotalLeagues int                `json:"total_leagues"`
	TotalTeams   int                `json:"total_teams"`
	TotalGames   int                `json:"total_games"`
	TotalGoals   int                `json:"total_goals"`
	GoalsPerGame float64            `json:"goals_per_game"`
	ChampionTeam *Champion          `json:"champion_team,omitempty"`
	Leagues      []LeagueSummary    `json:"leagues"`
	Errors       []calc.EntityError `json:"errors,omitempty"`
	Success      bool               `json:"success"`
	CalculatedAt time.Time          `json:"calculated_at"`
}

// CalculateStatistics aggregates the table entries of every league of a
// season and writes the totals back to the season as "statistiken".
func (a *Adapter) CalculateStatistics(ctx context.Context, p StatisticsPayload, jc queue.JobContext) (Statistics, error) {
	if err := calc.RequireID("season", p.SeasonID); err != nil {
		return Statistics{}, err
	}
	st, err := a.collect(ctx, p.SeasonID, true)
	if err != nil {
		return Statistics{}, err
	}
	if _, err := a.Store.Update(ctx, store.Season, p.SeasonID, map[string]any{"statistiken": st.record()}); err != nil {
		return st, calc.StoreErr(fmt.Sprintf("save season %d statistics", p.SeasonID), err)
	}
	queue.ReportProgress(ctx, 100)

	lvl := a.Log.Info
	if !st.Success {
		lvl = a.Log.Warn
	}
	lvl("season statistics calculated",
		logx.Int64("season", p.SeasonID),
		logx.Int("leagues", st.TotalLeagues),
		logx.Int("teams", st.TotalTeams),
		logx.Int("errors", len(st.Errors)),
		logx.String("user", jc.UserID),
	)
	return st, nil
}

// collect loads a season and sums its leagues. A failing league is recorded
// in Errors and skipped.
func (a *Adapter) collect(ctx context.Context, seasonID int64, progress bool) (Statistics, error) {
	season, err := a.Store.FindOne(ctx, store.Season, seasonID)
	if err != nil {
		return Statistics{}, calc.StoreErr(fmt.Sprintf("find season %d", seasonID), err)
	}
	st := Statistics{
		SeasonID:     seasonID,
		SeasonName:   season.Str("name"),
		Leagues:      []LeagueSummary{},
		CalculatedAt: a.Now(),
	}

	var best *calc.Standing
	leagueIDs := season.IDs("ligen")
	for i, lid := range leagueIDs {
		if err := ctx.Err(); err != nil {
			return Statistics{}, err
		}
		league, err := a.Store.FindOne(ctx, store.League, lid, "tabellen_eintraege")
		if err != nil {
			st.Errors = append(st.Errors, calc.NewEntityError(store.League, lid, err))
			a.Log.Debug("league skipped", logx.Int64("league", lid), logx.Err(err))
			continue
		}

		sum := LeagueSummary{LeagueID: lid, Name: league.Str("name")}
		var (
			played  int
			leader  *calc.Standing
			entries = league.Related("tabellen_eintraege")
		)
		for _, e := range entries {
			row := standingOf(e)
			sum.Teams++
			played += row.Played
			sum.Goals += row.GoalsFor
			if leader == nil || calc.Ahead(row, *leader) {
				r := row
				leader = &r
			}
			if best == nil || calc.Ahead(row, *best) {
				r := row
				best = &r
				st.ChampionTeam = &Champion{
					TeamID:     row.TeamID,
					TeamName:   row.TeamName,
					LeagueID:   lid,
					LeagueName: sum.Name,
					Points:     row.Points,
					GoalDiff:   row.GoalDiff,
					GoalsFor:   row.GoalsFor,
				}
			}
		}
		// Every match shows up in two table rows. An odd sum leaves one
		// unpaired row, which is not counted as a game.
		sum.Games = played / 2
		if played%2 != 0 {
			a.Log.Debug("league table unbalanced", logx.Int64("league", lid), logx.Int("played", played))
		}
		sum.GoalsPerGame = calc.Round(calc.SafeDiv(float64(sum.Goals), float64(sum.Games)), 2)
		if leader != nil {
			sum.Leader = leader.TeamName
		}

		st.Leagues = append(st.Leagues, sum)
		st.TotalLeagues++
		st.TotalTeams += sum.Teams
		st.TotalGames += sum.Games
		st.TotalGoals += sum.Goals

		if progress {
			queue.ReportProgress(ctx, (i+1)*90/len(leagueIDs))
		}
	}
	st.GoalsPerGame = calc.Round(calc.SafeDiv(float64(st.TotalGoals), float64(st.TotalGames)), 2)
	st.Success = len(st.Errors) == 0
	return st, nil
}

// standingOf reads a table entry. Missing numbers read as 0; a missing
// goal difference is derived from goals.
func standingOf(e store.Entity) calc.Standing {
	row := calc.Standing{
		Position:     e.Int("platz"),
		TeamID:       e.RefID("mannschaft"),
		TeamName:     e.Str("team_name"),
		Played:       e.Int("spiele"),
		Won:          e.Int("siege"),
		Drawn:        e.Int("unentschieden"),
		Lost:         e.Int("niederlagen"),
		GoalsFor:     e.Int("tore"),
		GoalsAgainst: e.Int("gegentore"),
		Points:       e.Int("punkte"),
	}
	if e.Exists("tordifferenz") {
		row.GoalDiff = e.Int("tordifferenz")
	} else {
		row.GoalDiff = row.GoalsFor - row.GoalsAgainst
	}
	if row.TeamName == "" {
		row.TeamName = e.Str("mannschaft.name")
	}
	return row
}

func (st Statistics) record() map[string]any {
	rec := map[string]any{
		"total_ligen":        st.TotalLeagues,
		"total_mannschaften": st.TotalTeams,
		"total_spiele":       st.TotalGames,
		"total_tore":         st.TotalGoals,
		"tore_pro_spiel":     st.GoalsPerGame,
		"berechnet_am":       st.CalculatedAt.UTC().Format(time.RFC3339),
	}
	if st.ChampionTeam != nil {
		rec["meister"] = st.ChampionTeam.TeamName
		rec["meister_punkte"] = st.ChampionTeam.Points
	}
	return rec
}
