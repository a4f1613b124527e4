package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	logx "clubqueue/pkg/logx"
)

const seedJSON = `{
  "api::saison.saison": [
    {"id": 1, "name": "2025/26", "ligen": [1, 2, 99]}
  ],
  "api::liga.liga": [
    {"id": 1, "name": "Kreisliga A", "saison": 1, "tabellen_eintraege": [1, 2]},
    {"id": 2, "name": "Kreisliga B", "saison": 1, "tabellen_eintraege": [3]}
  ],
  "api::tabellen-eintrag.tabellen-eintrag": [
    {"id": 1, "liga": 1, "mannschaft": 1, "team_name": "SV Nord", "punkte": 20, "tore": 30},
    {"id": 2, "liga": 1, "mannschaft": 2, "team_name": "FC Sued", "punkte": 24, "tore": "oops"},
    {"id": 3, "liga": 2, "mannschaft": 3, "team_name": "TuS West", "punkte": 24, "tore": 12}
  ],
  "api::mannschaft.mannschaft": [
    {"id": 1, "name": "SV Nord", "liga": 1},
    {"id": 2, "name": "FC Sued", "liga": 1},
    {"id": 3, "name": "TuS West", "liga": 2}
  ]
}`

func drivers(t *testing.T) map[string]func(t *testing.T) ContentStore {
	return map[string]func(t *testing.T) ContentStore{
		"memory": func(t *testing.T) ContentStore { return NewMemory(logx.Nop()) },
		"file": func(t *testing.T) ContentStore {
			cs, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "content.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("Open(file): %v", err)
			}
			return cs
		},
		"sqlite": func(t *testing.T) ContentStore {
			cs, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "content.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("Open(sqlite): %v", err)
			}
			return cs
		},
	}
}

func seeded(t *testing.T, open func(t *testing.T) ContentStore) ContentStore {
	t.Helper()
	cs := open(t)
	t.Cleanup(func() { _ = cs.Close() })
	n, err := Seed(context.Background(), cs, strings.NewReader(seedJSON))
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 9 {
		t.Fatalf("Seed created %d entities, want 9", n)
	}
	return cs
}

func TestContentStoreDrivers(t *testing.T) {
	for name, open := range drivers(t) {
		name, open := name, open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			cs := seeded(t, open)

			t.Run("populate nested", func(t *testing.T) {
				season, err := cs.FindOne(ctx, Season, 1, "ligen.tabellen_eintraege")
				if err != nil {
					t.Fatalf("FindOne: %v", err)
				}
				leagues := season.Related("ligen")
				if len(leagues) != 2 {
					t.Fatalf("leagues = %d, want 2 (missing id dropped)", len(leagues))
				}
				if got := leagues[0].Str("name"); got != "Kreisliga A" {
					t.Fatalf("league name = %q", got)
				}
				entries := leagues[0].Related("tabellen_eintraege")
				if len(entries) != 2 {
					t.Fatalf("entries = %d, want 2", len(entries))
				}
				if got := entries[1].Num("punkte"); got != 24 {
					t.Fatalf("punkte = %v, want 24", got)
				}
				if got := entries[1].Num("tore"); got != 0 {
					t.Fatalf("non-numeric tore = %v, want 0", got)
				}
				if got := entries[0].Num("gegentore"); got != 0 {
					t.Fatalf("missing gegentore = %v, want 0", got)
				}
			})

			t.Run("unpopulated relations keep ids", func(t *testing.T) {
				season, err := cs.FindOne(ctx, Season, 1)
				if err != nil {
					t.Fatalf("FindOne: %v", err)
				}
				ids := season.IDs("ligen")
				if len(ids) != 3 || ids[0] != 1 || ids[2] != 99 {
					t.Fatalf("ids = %v", ids)
				}
			})

			t.Run("filter sort limit", func(t *testing.T) {
				got, err := cs.FindMany(ctx, TableEntry, Query{
					Filters: map[string]any{"punkte": 24},
					Sort:    "-tore",
				})
				if err != nil {
					t.Fatalf("FindMany: %v", err)
				}
				if len(got) != 2 {
					t.Fatalf("len = %d, want 2", len(got))
				}

				got, err = cs.FindMany(ctx, TableEntry, Query{Sort: "-punkte", Limit: 2})
				if err != nil {
					t.Fatalf("FindMany: %v", err)
				}
				if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
					t.Fatalf("sorted ids = %d,%d, want 2,3", got[0].ID, got[1].ID)
				}

				got, err = cs.FindMany(ctx, League, Query{Filters: map[string]any{"tabellen_eintraege": 3}})
				if err != nil {
					t.Fatalf("FindMany(contains): %v", err)
				}
				if len(got) != 1 || got[0].ID != 2 {
					t.Fatalf("containment filter returned %d entities", len(got))
				}

				got, err = cs.FindMany(ctx, Team, Query{Filters: map[string]any{"name": "FC Sued"}})
				if err != nil {
					t.Fatalf("FindMany(name): %v", err)
				}
				if len(got) != 1 || got[0].ID != 2 {
					t.Fatalf("string filter returned %d entities", len(got))
				}
			})

			t.Run("create and update", func(t *testing.T) {
				e, err := cs.Create(ctx, Team, map[string]any{"name": "SG Ost", "liga": 2})
				if err != nil {
					t.Fatalf("Create: %v", err)
				}
				if e.ID != 4 {
					t.Fatalf("assigned id = %d, want 4", e.ID)
				}
				e, err = cs.Update(ctx, Team, e.ID, map[string]any{"statistiken": map[string]any{"siege": 3}})
				if err != nil {
					t.Fatalf("Update: %v", err)
				}
				if e.Str("name") != "SG Ost" || e.Int("statistiken.siege") != 3 {
					t.Fatalf("merged doc = %s", e.Raw())
				}
				if _, err := cs.Update(ctx, Team, 404, map[string]any{"name": "x"}); !errors.Is(err, ErrNotFound) {
					t.Fatalf("Update(missing) err = %v, want ErrNotFound", err)
				}
			})

			t.Run("errors", func(t *testing.T) {
				if _, err := cs.FindOne(ctx, Season, 42); !errors.Is(err, ErrNotFound) {
					t.Fatalf("FindOne(missing) err = %v", err)
				}
				if _, err := cs.FindOne(ctx, "api::foo.foo", 1); !errors.Is(err, ErrUnknownType) {
					t.Fatalf("FindOne(unknown type) err = %v", err)
				}
				if _, err := cs.FindOne(ctx, Season, 1, "name"); err == nil {
					t.Fatalf("populate of a plain field should fail")
				}
			})
		})
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "content.json")}

	cs, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := cs.Create(ctx, Team, map[string]any{"name": "SV Nord"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Closing compacts the journal; the second write only lives in the journal.
	if err := cs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	cs, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := cs.Create(ctx, Team, map[string]any{"name": "FC Sued"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	m := cs.(*Memory)
	_ = m.journal.close()

	cs, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer cs.Close()
	got, err := cs.FindMany(ctx, Team, Query{})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}
	if len(got) != 2 || got[1].Str("name") != "FC Sued" {
		t.Fatalf("reopened store holds %d teams", len(got))
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for sqlite without path")
	}
}

func TestSeedUpdatesExistingIDs(t *testing.T) {
	ctx := context.Background()
	cs := NewMemory(logx.Nop())
	if _, err := Seed(ctx, cs, strings.NewReader(`{"api::mannschaft.mannschaft":[{"id":7,"name":"A"}]}`)); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if _, err := Seed(ctx, cs, strings.NewReader(`{"api::mannschaft.mannschaft":[{"id":7,"name":"B"}]}`)); err != nil {
		t.Fatalf("Seed again: %v", err)
	}
	e, err := cs.FindOne(ctx, Team, 7)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if e.Str("name") != "B" {
		t.Fatalf("name = %q, want B", e.Str("name"))
	}
}

func TestMatchValue(t *testing.T) {
	doc := `{"a":1,"b":"x","c":[1,{"id":2}],"d":null,"e":true,"f":{"id":5}}`
	tests := []struct {
		field string
		want  any
		match bool
	}{
		{"a", 1, true},
		{"a", int64(2), false},
		{"b", "x", true},
		{"c", 2, true},
		{"c", 3, false},
		{"d", nil, true},
		{"missing", nil, true},
		{"a", nil, false},
		{"e", true, true},
		{"f", 5, true},
	}
	for _, tt := range tests {
		got := matchesFilters(doc, map[string]any{tt.field: tt.want})
		if got != tt.match {
			t.Errorf("match %s=%v: got %v, want %v", tt.field, tt.want, got, tt.match)
		}
	}
}

func TestEntityIntSaturates(t *testing.T) {
	e := newEntity(Team, 1, `{"big":1e30,"small":-1e30,"frac":-2.7,"num":"42","bad":"n/a"}`)
	tests := []struct {
		path string
		want int
	}{
		{"big", math.MaxInt},
		{"small", math.MinInt},
		{"frac", -2},
		{"num", 42},
		{"bad", 0},
		{"missing", 0},
	}
	for _, tt := range tests {
		if got := e.Int(tt.path); got != tt.want {
			t.Errorf("Int(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}
