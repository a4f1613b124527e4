package calc

import "sort"

// Points for a match result.
const (
	PointsWin  = 3
	PointsDraw = 1
	PointsLoss = 0
)

// Standing is one row of a league table.
type Standing struct {
	Position     int    `json:"platz"`
	TeamID       int64  `json:"mannschaft"`
	TeamName     string `json:"team_name"`
	Played       int    `json:"spiele"`
	Won          int    `json:"siege"`
	Drawn        int    `json:"unentschieden"`
	Lost         int    `json:"niederlagen"`
	GoalsFor     int    `json:"tore"`
	GoalsAgainst int    `json:"gegentore"`
	GoalDiff     int    `json:"tordifferenz"`
	Points       int    `json:"punkte"`
}

// AddResult books one played match.
func (s *Standing) AddResult(goalsFor, goalsAgainst int) {
	s.Played++
	s.GoalsFor += goalsFor
	s.GoalsAgainst += goalsAgainst
	s.GoalDiff = s.GoalsFor - s.GoalsAgainst
	switch {
	case goalsFor > goalsAgainst:
		s.Won++
		s.Points += PointsWin
	case goalsFor == goalsAgainst:
		s.Drawn++
		s.Points += PointsDraw
	default:
		s.Lost++
		s.Points += PointsLoss
	}
}

// Ahead reports whether a ranks strictly before b: points, then goal
// difference, then goals for. Equal rows are not ahead of each other.
func Ahead(a, b Standing) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if a.GoalDiff != b.GoalDiff {
		return a.GoalDiff > b.GoalDiff
	}
	return a.GoalsFor > b.GoalsFor
}

// Rank sorts rows in place and assigns positions starting at 1. Rows that
// tie on every criterion keep their input order.
func Rank(rows []Standing) {
	sort.SliceStable(rows, func(i, j int) bool { return Ahead(rows[i], rows[j]) })
	for i := range rows {
		rows[i].Position = i + 1
	}
}
