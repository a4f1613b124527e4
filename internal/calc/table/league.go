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

// LeagueTable is the result of the league-table calculation.
type LeagueTable struct {
	LeagueID     int64              `json:"league_id"`
	LeagueName   string             `json:"league_name"`
	Rows         []calc.Standing    `json:"rows"`
	Matches      int                `json:"matches"`
	Updated      int                `json:"updated"`
	Created      int                `json:"created"`
	Errors       []calc.EntityError `json:"errors,omitempty"`
	Success      bool               `json:"success"`
	CalculatedAt time.Time          `json:"calculated_at"`
}

// CalculateLeagueTable rebuilds a league table from its finished matches
// and writes one table entry per team.
func (a *Adapter) CalculateLeagueTable(ctx context.Context, p LeagueTablePayload, _ queue.JobContext) (LeagueTable, error) {
	if err := calc.RequireID("league", p.LeagueID); err != nil {
		return LeagueTable{}, err
	}
	t, err := a.updateLeague(ctx, p.LeagueID)
	if err != nil {
		return LeagueTable{}, err
	}
	queue.ReportProgress(ctx, 100)
	a.Log.Debug("league table calculated",
		logx.Int64("league", p.LeagueID),
		logx.Int("teams", len(t.Rows)),
		logx.Int("matches", t.Matches),
		logx.Int("errors", len(t.Errors)),
	)
	return t, nil
}

func (a *Adapter) updateLeague(ctx context.Context, leagueID int64) (LeagueTable, error) {
	t, err := a.computeLeague(ctx, leagueID)
	if err != nil {
		return LeagueTable{}, err
	}
	if err := a.writeLeague(ctx, &t); err != nil {
		return LeagueTable{}, err
	}
	t.Success = len(t.Errors) == 0
	return t, nil
}

// computeLeague ranks the league's teams. Teams listed on the league come
// first in arrival order, followed by teams only seen in matches.
func (a *Adapter) computeLeague(ctx context.Context, leagueID int64) (LeagueTable, error) {
	league, err := a.Store.FindOne(ctx, store.League, leagueID, "mannschaften")
	if err != nil {
		return LeagueTable{}, calc.StoreErr(fmt.Sprintf("find league %d", leagueID), err)
	}
	t := LeagueTable{
		LeagueID:     leagueID,
		LeagueName:   league.Str("name"),
		Rows:         []calc.Standing{},
		CalculatedAt: a.Now(),
	}

	var (
		rows  []calc.Standing
		index = map[int64]int{}
	)
	row := func(id int64, name string) *calc.Standing {
		i, ok := index[id]
		if !ok {
			i = len(rows)
			index[id] = i
			rows = append(rows, calc.Standing{TeamID: id})
		}
		if rows[i].TeamName == "" {
			rows[i].TeamName = name
		}
		return &rows[i]
	}
	for _, team := range league.Related("mannschaften") {
		row(team.ID, team.Str("name"))
	}

	matches, err := calc.FinishedMatches(ctx, a.Store, map[string]any{"liga": leagueID}, "heim_mannschaft", "gast_mannschaft")
	if err != nil {
		return LeagueTable{}, calc.StoreErr(fmt.Sprintf("load matches of league %d", leagueID), err)
	}
	for _, m := range matches {
		if m.HomeID <= 0 || m.AwayID <= 0 || m.HomeID == m.AwayID {
			t.Errors = append(t.Errors, calc.EntityError{UID: store.Match, ID: m.ID, Error: "match without two distinct teams"})
			continue
		}
		row(m.HomeID, m.HomeName).AddResult(m.HomeGoals, m.AwayGoals)
		row(m.AwayID, m.AwayName).AddResult(m.AwayGoals, m.HomeGoals)
		t.Matches++
	}

	calc.Rank(rows)
	if rows != nil {
		t.Rows = rows
	}
	return t, nil
}

// writeLeague updates existing table entries and creates missing ones. A
// failed entry is recorded and the rest are still written.
func (a *Adapter) writeLeague(ctx context.Context, t *LeagueTable) error {
	existing, err := a.Store.FindMany(ctx, store.TableEntry, store.Query{Filters: map[string]any{"liga": t.LeagueID}})
	if err != nil {
		return calc.StoreErr(fmt.Sprintf("load table of league %d", t.LeagueID), err)
	}
	byTeam := make(map[int64]int64, len(existing))
	entryIDs := make([]int64, 0, len(existing))
	for _, e := range existing {
		byTeam[e.RefID("mannschaft")] = e.ID
		entryIDs = append(entryIDs, e.ID)
	}

	for _, r := range t.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		data := entryData(t.LeagueID, r)
		if id, ok := byTeam[r.TeamID]; ok {
			if _, err := a.Store.Update(ctx, store.TableEntry, id, data); err != nil {
				t.Errors = append(t.Errors, calc.NewEntityError(store.TableEntry, id, err))
				continue
			}
			t.Updated++
			continue
		}
		e, err := a.Store.Create(ctx, store.TableEntry, data)
		if err != nil {
			t.Errors = append(t.Errors, calc.NewEntityError(store.Team, r.TeamID, err))
			continue
		}
		t.Created++
		entryIDs = append(entryIDs, e.ID)
	}

	if t.Created > 0 {
		if _, err := a.Store.Update(ctx, store.League, t.LeagueID, map[string]any{"tabellen_eintraege": entryIDs}); err != nil {
			t.Errors = append(t.Errors, calc.NewEntityError(store.League, t.LeagueID, err))
		}
	}
	return nil
}

func entryData(leagueID int64, r calc.Standing) map[string]any {
	return map[string]any{
		"liga":          leagueID,
		"mannschaft":    r.TeamID,
		"team_name":     r.TeamName,
		"platz":         r.Position,
		"spiele":        r.Played,
		"siege":         r.Won,
		"unentschieden": r.Drawn,
		"niederlagen":   r.Lost,
		"tore":          r.GoalsFor,
		"gegentore":     r.GoalsAgainst,
		"tordifferenz":  r.GoalDiff,
		"punkte":        r.Points,
	}
}
