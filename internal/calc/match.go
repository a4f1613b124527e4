package calc

import (
	"context"
	"sort"

	"clubqueue/internal/store"
)

// Match statuses.
const (
	MatchPlanned  = "geplant"
	MatchFinished = "beendet"
)

// Match is the part of a match document the calculations use.
type Match struct {
	ID        int64  `json:"id"`
	Date      string `json:"datum"`
	HomeID    int64  `json:"heim_mannschaft"`
	AwayID    int64  `json:"gast_mannschaft"`
	HomeName  string `json:"heim_name,omitempty"`
	AwayName  string `json:"gast_name,omitempty"`
	HomeGoals int    `json:"heim_tore"`
	AwayGoals int    `json:"gast_tore"`
}

// ReadMatch maps a match entity. Missing scores read as 0.
func ReadMatch(e store.Entity) Match {
	return Match{
		ID:        e.ID,
		Date:      e.Str("datum"),
		HomeID:    e.RefID("heim_mannschaft"),
		AwayID:    e.RefID("gast_mannschaft"),
		HomeName:  e.Str("heim_mannschaft.name"),
		AwayName:  e.Str("gast_mannschaft.name"),
		HomeGoals: e.Int("heim_tore"),
		AwayGoals: e.Int("gast_tore"),
	}
}

// For returns goals scored and conceded from team's point of view and
// whether team played at home.
func (m Match) For(team int64) (goalsFor, goalsAgainst int, home bool) {
	if m.HomeID == team {
		return m.HomeGoals, m.AwayGoals, true
	}
	return m.AwayGoals, m.HomeGoals, false
}

// FinishedMatches loads finished matches matching filters, oldest first.
func FinishedMatches(ctx context.Context, cs store.ContentStore, filters map[string]any, populate ...string) ([]Match, error) {
	f := make(map[string]any, len(filters)+1)
	for k, v := range filters {
		f[k] = v
	}
	f["status"] = MatchFinished
	ents, err := cs.FindMany(ctx, store.Match, store.Query{Filters: f, Populate: populate, Sort: "datum"})
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(ents))
	for _, e := range ents {
		out = append(out, ReadMatch(e))
	}
	return out, nil
}

// SortMatches orders matches by date, then id.
func SortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Date != ms[j].Date {
			return ms[i].Date < ms[j].Date
		}
		return ms[i].ID < ms[j].ID
	})
}
