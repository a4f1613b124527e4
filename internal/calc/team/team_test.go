package team

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

const fixture = `{
  "api::liga.liga": [
    {"id": 1, "name": "Kreisliga A", "mannschaften": [1, 2, 3, 4]}
  ],
  "api::mannschaft.mannschaft": [
    {"id": 1, "name": "SV Nord", "liga": 1},
    {"id": 2, "name": "FC Sued", "liga": 1},
    {"id": 3, "name": "TuS West", "liga": 1},
    {"id": 4, "name": "SG Ost", "liga": 1}
  ],
  "api::tabellen-eintrag.tabellen-eintrag": [
    {"id": 1, "liga": 1, "mannschaft": 1, "platz": 3},
    {"id": 2, "liga": 1, "mannschaft": 4, "platz": 4}
  ],
  "api::spiel.spiel": [
    {"id": 1, "liga": 1, "heim_mannschaft": 1, "gast_mannschaft": 2, "heim_tore": 2, "gast_tore": 1, "status": "beendet", "datum": "2025-08-01"},
    {"id": 2, "liga": 1, "heim_mannschaft": 3, "gast_mannschaft": 1, "heim_tore": 0, "gast_tore": 0, "status": "beendet", "datum": "2025-08-08"},
    {"id": 3, "liga": 1, "heim_mannschaft": 2, "gast_mannschaft": 1, "heim_tore": 3, "gast_tore": 0, "status": "beendet", "datum": "2025-08-15"},
    {"id": 4, "liga": 1, "heim_mannschaft": 1, "gast_mannschaft": 3, "status": "geplant", "datum": "2025-08-22"},
    {"id": 5, "liga": 1, "heim_mannschaft": 1, "gast_mannschaft": 2, "gast_tore": 1, "status": "beendet", "datum": "2025-08-29"}
  ]
}`

type onceRecorder struct {
	keys []string
}

func (r *onceRecorder) ScheduleOnce(key string, _ time.Time, _ queue.Spec) (string, error) {
	r.keys = append(r.keys, key)
	return "job-" + key, nil
}

func (r *onceRecorder) ScheduleRecurring(key string, _ time.Time, _ time.Duration, _ queue.Spec, _ int) (string, error) {
	return "job-" + key, nil
}

func (r *onceRecorder) Cancel(string) bool { return false }

func newTestAdapter(t *testing.T) (*Adapter, store.ContentStore, *onceRecorder) {
	t.Helper()
	cs := store.NewMemory(logx.Nop())
	if _, err := store.Seed(context.Background(), cs, strings.NewReader(fixture)); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	rec := &onceRecorder{}
	return New(calc.Deps{Store: cs, Scheduler: rec}), cs, rec
}

func TestCalculateStatistics(t *testing.T) {
	t.Parallel()
	a, cs, _ := newTestAdapter(t)
	ctx := context.Background()

	st, err := a.CalculateStatistics(ctx, StatisticsPayload{TeamID: 1}, queue.JobContext{})
	if err != nil {
		t.Fatalf("CalculateStatistics: %v", err)
	}
	if st.Played != 4 || st.Won != 1 || st.Drawn != 1 || st.Lost != 2 {
		t.Fatalf("record = %d/%d/%d/%d, want 4/1/1/2", st.Played, st.Won, st.Drawn, st.Lost)
	}
	if st.GoalsFor != 2 || st.GoalsAgainst != 5 || st.GoalDiff != -3 || st.Points != 4 {
		t.Fatalf("goals %d:%d diff %d points %d", st.GoalsFor, st.GoalsAgainst, st.GoalDiff, st.Points)
	}
	if st.CleanSheets != 1 || st.WinRate != 25 || st.PointsPerGame != 1 {
		t.Fatalf("clean sheets %d win rate %v ppg %v", st.CleanSheets, st.WinRate, st.PointsPerGame)
	}
	if st.Home.Played != 2 || st.Home.Points != 3 || st.Away.Played != 2 || st.Away.Points != 1 {
		t.Fatalf("home %+v away %+v", st.Home, st.Away)
	}
	if want := []string{"N", "N", "U", "S"}; !reflect.DeepEqual(st.Form, want) {
		t.Fatalf("form = %v, want %v", st.Form, want)
	}
	if st.TablePosition != 3 || st.LeagueName != "Kreisliga A" || !st.Success {
		t.Fatalf("position %d league %q success %v", st.TablePosition, st.LeagueName, st.Success)
	}

	e, err := cs.FindOne(ctx, store.Team, 1)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if e.Int("statistiken.punkte") != 4 || e.Str("name") != "SV Nord" {
		t.Fatalf("written doc = %s", e.Raw())
	}
}

func TestCalculateStatisticsWithoutMatches(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAdapter(t)

	st, err := a.CalculateStatistics(context.Background(), StatisticsPayload{TeamID: 4}, queue.JobContext{})
	if err != nil {
		t.Fatalf("CalculateStatistics: %v", err)
	}
	if st.Played != 0 || st.WinRate != 0 || st.PointsPerGame != 0 || st.GoalsAgainstPerGame != 0 {
		t.Fatalf("empty record = %+v", st)
	}
	if len(st.Form) != 0 || st.TablePosition != 4 {
		t.Fatalf("form %v position %d", st.Form, st.TablePosition)
	}
}

func TestCalculateHeadToHead(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAdapter(t)

	h, err := a.CalculateHeadToHead(context.Background(), HeadToHeadPayload{TeamID: 1, OpponentID: 2}, queue.JobContext{})
	if err != nil {
		t.Fatalf("CalculateHeadToHead: %v", err)
	}
	if h.Played != 3 || h.TeamWins != 1 || h.OpponentWins != 2 || h.Draws != 0 {
		t.Fatalf("h2h = %d played %d-%d-%d", h.Played, h.TeamWins, h.Draws, h.OpponentWins)
	}
	if h.TeamGoals != 2 || h.OpponentGoals != 5 {
		t.Fatalf("goals %d:%d", h.TeamGoals, h.OpponentGoals)
	}
	if h.LastMeeting == nil || h.LastMeeting.ID != 5 || h.OpponentName != "FC Sued" {
		t.Fatalf("last meeting %+v opponent %q", h.LastMeeting, h.OpponentName)
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAdapter(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"statistics without id", func() error {
			_, err := a.CalculateStatistics(ctx, StatisticsPayload{}, queue.JobContext{})
			return err
		}},
		{"h2h against itself", func() error {
			_, err := a.CalculateHeadToHead(ctx, HeadToHeadPayload{TeamID: 2, OpponentID: 2}, queue.JobContext{})
			return err
		}},
		{"h2h unknown opponent", func() error {
			_, err := a.CalculateHeadToHead(ctx, HeadToHeadPayload{TeamID: 2, OpponentID: 9}, queue.JobContext{})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if err == nil || queue.IsRetryable(err) {
				t.Fatalf("err = %v, want non-retryable failure", err)
			}
		})
	}
}

func TestScheduleMatchUpdate(t *testing.T) {
	t.Parallel()
	a, _, rec := newTestAdapter(t)

	ids, err := a.ScheduleMatchUpdate(1, 2, time.Second, queue.JobContext{Operation: "match-finished"})
	if err != nil {
		t.Fatalf("ScheduleMatchUpdate: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}
	if want := []string{"team-statistics:1", "team-statistics:2"}; !reflect.DeepEqual(rec.keys, want) {
		t.Fatalf("keys = %v, want %v", rec.keys, want)
	}

	spec, err := a.Build(CalcHeadToHead, calc.Target{TeamID: 1, OpponentID: 3}, queue.JobContext{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.Priority != queue.PriorityLow || spec.Payload.Kind() != CalcHeadToHead {
		t.Fatalf("spec = %+v", spec)
	}
	if _, err := a.Build("nope", calc.Target{}, queue.JobContext{}); !errors.Is(err, calc.ErrUnknownCalculation) {
		t.Fatalf("err = %v", err)
	}
}
