package team

import (
	"context"
	"fmt"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
)

// HeadToHead is the record between two teams, from TeamID's point of view.
type HeadToHead struct {
	TeamID        int64        `json:"team_id"`
	TeamName      string       `json:"team_name"`
	OpponentID    int64        `json:"opponent_id"`
	OpponentName  string       `json:"opponent_name"`
	Played        int          `json:"played"`
	TeamWins      int          `json:"team_wins"`
	OpponentWins  int          `json:"opponent_wins"`
	Draws         int          `json:"draws"`
	TeamGoals     int          `json:"team_goals"`
	OpponentGoals int          `json:"opponent_goals"`
	TeamWinRate   float64      `json:"team_win_rate"`
	Meetings      []calc.Match `json:"meetings"`
	LastMeeting   *calc.Match  `json:"last_meeting,omitempty"`
	Success       bool         `json:"success"`
	CalculatedAt  time.Time    `json:"calculated_at"`
}

// CalculateHeadToHead compares all finished meetings of two teams. It reads only.
func (a *Adapter) CalculateHeadToHead(ctx context.Context, p HeadToHeadPayload, _ queue.JobContext) (HeadToHead, error) {
	if err := calc.RequireID("team", p.TeamID); err != nil {
		return HeadToHead{}, err
	}
	if err := calc.RequireID("opponent", p.OpponentID); err != nil {
		return HeadToHead{}, err
	}
	if p.TeamID == p.OpponentID {
		return HeadToHead{}, calc.Invalid("team %d cannot play itself", p.TeamID)
	}

	h := HeadToHead{TeamID: p.TeamID, OpponentID: p.OpponentID, Meetings: []calc.Match{}, CalculatedAt: a.Now()}
	for _, t := range []struct {
		id   int64
		name *string
	}{{p.TeamID, &h.TeamName}, {p.OpponentID, &h.OpponentName}} {
		e, err := a.Store.FindOne(ctx, store.Team, t.id)
		if err != nil {
			return HeadToHead{}, calc.StoreErr(fmt.Sprintf("find team %d", t.id), err)
		}
		*t.name = e.Str("name")
	}

	for _, pair := range [][2]int64{{p.TeamID, p.OpponentID}, {p.OpponentID, p.TeamID}} {
		ms, err := calc.FinishedMatches(ctx, a.Store, map[string]any{
			"heim_mannschaft": pair[0],
			"gast_mannschaft": pair[1],
		})
		if err != nil {
			return HeadToHead{}, calc.StoreErr(fmt.Sprintf("load meetings %d-%d", pair[0], pair[1]), err)
		}
		h.Meetings = append(h.Meetings, ms...)
	}
	calc.SortMatches(h.Meetings)

	for _, m := range h.Meetings {
		gf, ga, _ := m.For(p.TeamID)
		h.Played++
		h.TeamGoals += gf
		h.OpponentGoals += ga
		switch {
		case gf > ga:
			h.TeamWins++
		case gf < ga:
			h.OpponentWins++
		default:
			h.Draws++
		}
	}
	if n := len(h.Meetings); n > 0 {
		last := h.Meetings[n-1]
		h.LastMeeting = &last
	}
	h.TeamWinRate = calc.Percent(float64(h.TeamWins), float64(h.Played))
	h.Success = true
	return h, nil
}
