package table

import (
	"context"
	"strings"
	"testing"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

const fixture = `{
  "api::saison.saison": [
    {"id": 1, "name": "2025/26", "ligen": [1, 2, 3]}
  ],
  "api::liga.liga": [
    {"id": 1, "name": "Kreisliga A", "saison": 1, "mannschaften": [1, 2, 3]},
    {"id": 2, "name": "Kreisliga B", "saison": 1, "mannschaften": [4, 5], "tabellen_eintraege": [10]}
  ],
  "api::mannschaft.mannschaft": [
    {"id": 1, "name": "SV Nord", "liga": 1},
    {"id": 2, "name": "FC Sued", "liga": 1},
    {"id": 3, "name": "TuS West", "liga": 1},
    {"id": 4, "name": "SG Ost", "liga": 2},
    {"id": 5, "name": "BW Mitte", "liga": 2}
  ],
  "api::tabellen-eintrag.tabellen-eintrag": [
    {"id": 10, "liga": 2, "mannschaft": 4, "team_name": "SG Ost", "punkte": 99}
  ],
  "api::spiel.spiel": [
    {"id": 1, "liga": 1, "heim_mannschaft": 1, "gast_mannschaft": 2, "heim_tore": 2, "gast_tore": 1, "status": "beendet", "datum": "2025-08-01"},
    {"id": 2, "liga": 1, "heim_mannschaft": 2, "gast_mannschaft": 3, "heim_tore": 1, "gast_tore": 1, "status": "beendet", "datum": "2025-08-08"},
    {"id": 3, "liga": 1, "heim_mannschaft": 3, "gast_mannschaft": 1, "heim_tore": 0, "gast_tore": 2, "status": "beendet", "datum": "2025-08-15"},
    {"id": 4, "liga": 1, "heim_mannschaft": 1, "gast_mannschaft": 3, "status": "geplant", "datum": "2025-08-22"},
    {"id": 5, "liga": 2, "heim_mannschaft": 4, "gast_mannschaft": 5, "heim_tore": 0, "gast_tore": 0, "status": "beendet", "datum": "2025-08-02"}
  ]
}`

func newTestAdapter(t *testing.T, policy calc.BatchPolicy) (*Adapter, store.ContentStore) {
	t.Helper()
	cs := store.NewMemory(logx.Nop())
	if _, err := store.Seed(context.Background(), cs, strings.NewReader(fixture)); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return New(calc.Deps{Store: cs}, policy), cs
}

func TestCalculateLeagueTable(t *testing.T) {
	t.Parallel()
	a, cs := newTestAdapter(t, calc.BatchPolicy{})
	ctx := context.Background()

	tbl, err := a.CalculateLeagueTable(ctx, LeagueTablePayload{LeagueID: 1}, queue.JobContext{})
	if err != nil {
		t.Fatalf("CalculateLeagueTable: %v", err)
	}
	if tbl.Matches != 3 || len(tbl.Rows) != 3 || !tbl.Success {
		t.Fatalf("matches=%d rows=%d success=%v", tbl.Matches, len(tbl.Rows), tbl.Success)
	}
	want := []struct {
		team   int64
		points int
		diff   int
	}{{1, 6, 3}, {2, 1, -1}, {3, 1, -2}}
	for i, w := range want {
		r := tbl.Rows[i]
		if r.TeamID != w.team || r.Points != w.points || r.GoalDiff != w.diff || r.Position != i+1 {
			t.Fatalf("row %d = %+v, want team %d points %d diff %d", i, r, w.team, w.points, w.diff)
		}
	}
	if tbl.Rows[0].TeamName != "SV Nord" {
		t.Fatalf("team name = %q", tbl.Rows[0].TeamName)
	}
	if tbl.Created != 3 || tbl.Updated != 0 {
		t.Fatalf("created=%d updated=%d", tbl.Created, tbl.Updated)
	}

	league, err := cs.FindOne(ctx, store.League, 1, "tabellen_eintraege")
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	entries := league.Related("tabellen_eintraege")
	if len(entries) != 3 || entries[0].Int("punkte") != 6 || entries[0].Int("platz") != 1 {
		t.Fatalf("written entries = %s", league.Raw())
	}

	// A second run updates in place.
	tbl, err = a.CalculateLeagueTable(ctx, LeagueTablePayload{LeagueID: 1}, queue.JobContext{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if tbl.Created != 0 || tbl.Updated != 3 {
		t.Fatalf("second run created=%d updated=%d", tbl.Created, tbl.Updated)
	}
}

func TestCalculateLeagueTableUpdatesExistingEntry(t *testing.T) {
	t.Parallel()
	a, cs := newTestAdapter(t, calc.BatchPolicy{})
	ctx := context.Background()

	tbl, err := a.CalculateLeagueTable(ctx, LeagueTablePayload{LeagueID: 2}, queue.JobContext{})
	if err != nil {
		t.Fatalf("CalculateLeagueTable: %v", err)
	}
	if tbl.Updated != 1 || tbl.Created != 1 {
		t.Fatalf("updated=%d created=%d", tbl.Updated, tbl.Created)
	}
	e, err := cs.FindOne(ctx, store.TableEntry, 10)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if e.Int("punkte") != 1 || e.Int("spiele") != 1 {
		t.Fatalf("stale entry not overwritten: %s", e.Raw())
	}
	league, err := cs.FindOne(ctx, store.League, 2)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if ids := league.IDs("tabellen_eintraege"); len(ids) != 2 || ids[0] != 10 {
		t.Fatalf("league entries = %v", ids)
	}
}

func TestCalculateLeagueTableMissingLeague(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdapter(t, calc.BatchPolicy{})

	_, err := a.CalculateLeagueTable(context.Background(), LeagueTablePayload{LeagueID: 3}, queue.JobContext{})
	if err == nil || queue.IsRetryable(err) {
		t.Fatalf("err = %v, want non-retryable failure", err)
	}
}

func TestCalculateBatchThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		threshold float64
		success   bool
	}{
		{"default half", 0, true},
		{"strict", 0.3, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, _ := newTestAdapter(t, calc.BatchPolicy{SuccessThreshold: tt.threshold, Size: 2, Pace: time.Millisecond})

			res, err := a.CalculateBatch(context.Background(), BatchPayload{SeasonID: 1}, queue.JobContext{})
			if err != nil {
				t.Fatalf("CalculateBatch: %v", err)
			}
			if res.Total != 3 || res.Processed != 3 || res.Failed != 1 || len(res.Leagues) != 2 {
				t.Fatalf("result = %+v", res)
			}
			if res.Success != tt.success {
				t.Fatalf("success = %v, want %v (threshold %v)", res.Success, tt.success, res.Threshold)
			}
			if len(res.Errors) != 1 || res.Errors[0].ID != 3 {
				t.Fatalf("errors = %+v", res.Errors)
			}
		})
	}
}

func TestCalculateBatchValidation(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdapter(t, calc.BatchPolicy{})
	ctx := context.Background()

	for _, p := range []BatchPayload{{}, {LeagueIDs: []int64{1, -2}}} {
		if _, err := a.CalculateBatch(ctx, p, queue.JobContext{}); !queue.IsPermanent(err) {
			t.Fatalf("payload %+v: err = %v, want permanent", p, err)
		}
	}
}

func TestCalculateBatchStopsOnCancel(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdapter(t, calc.BatchPolicy{Size: 1, Pace: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.CalculateBatch(ctx, BatchPayload{LeagueIDs: []int64{1, 2}}, queue.JobContext{})
	if err == nil {
		t.Fatalf("expected an error once the pacer outlives the deadline")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("batch did not stop promptly")
	}
}

type keyRecorder struct{ keys []string }

func (r *keyRecorder) ScheduleOnce(key string, _ time.Time, _ queue.Spec) (string, error) {
	r.keys = append(r.keys, key)
	return "job-" + key, nil
}

func (r *keyRecorder) ScheduleRecurring(key string, _ time.Time, _ time.Duration, _ queue.Spec, _ int) (string, error) {
	r.keys = append(r.keys, key)
	return "job-" + key, nil
}

func (r *keyRecorder) Cancel(string) bool { return false }

func TestScheduleKeys(t *testing.T) {
	t.Parallel()
	rec := &keyRecorder{}
	a := New(calc.Deps{Store: store.NewMemory(logx.Nop()), Scheduler: rec}, calc.BatchPolicy{})

	if _, err := a.ScheduleLeagueTable(7, 0, queue.JobContext{}); err != nil {
		t.Fatalf("ScheduleLeagueTable: %v", err)
	}
	if _, err := a.ScheduleBatchUpdate([]int64{1, 2}, 0, queue.JobContext{}); err != nil {
		t.Fatalf("ScheduleBatchUpdate: %v", err)
	}
	if _, err := a.ScheduleSeasonTables(3, 0, queue.JobContext{}); err != nil {
		t.Fatalf("ScheduleSeasonTables: %v", err)
	}
	if _, err := a.ScheduleRecurringSeasonTables(3, time.Time{}, time.Hour, 0); err != nil {
		t.Fatalf("ScheduleRecurringSeasonTables: %v", err)
	}
	want := "league-table:7,table-batch-update:1:2,table-batch-update-season:3,table-batch-update-recurring:3"
	if got := strings.Join(rec.keys, ","); got != want {
		t.Fatalf("keys = %s, want %s", got, want)
	}
}
