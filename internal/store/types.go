package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("entity not found")
	ErrUnknownType = errors.New("unknown content type")
	ErrClosed      = errors.New("store closed")
)

// Content-type uids.
const (
	Season     = "api::saison.saison"
	League     = "api::liga.liga"
	TableEntry = "api::tabellen-eintrag.tabellen-eintrag"
	Team       = "api::mannschaft.mannschaft"
	Match      = "api::spiel.spiel"
)

// relations maps uid -> relation field -> target uid.
var relations = map[string]map[string]string{
	Season:     {"ligen": League},
	League:     {"saison": Season, "tabellen_eintraege": TableEntry, "mannschaften": Team},
	TableEntry: {"liga": League, "mannschaft": Team},
	Team:       {"liga": League},
	Match:      {"liga": League, "saison": Season, "heim_mannschaft": Team, "gast_mannschaft": Team},
}

// RelationTarget returns the uid a relation field of uid points to.
func RelationTarget(uid, field string) (string, bool) {
	t, ok := relations[uid][field]
	return t, ok
}

func knownType(uid string) bool {
	_, ok := relations[uid]
	return ok
}

// Config configures the content store.
//
// Driver values: "memory" (default), "file", "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Query narrows FindMany.
type Query struct {
	// Filters match a field (dotted gjson path) against a value. A relation
	// list matches when it contains the value.
	Filters map[string]any

	// Populate lists relation fields to expand; nested paths use dots
	// ("ligen.tabellen_eintraege").
	Populate []string

	// Sort is a field name; a leading '-' sorts descending. Ties keep id order.
	Sort string

	Limit int
}

// ContentStore reads and writes content entities.
type ContentStore interface {
	FindOne(ctx context.Context, uid string, id int64, populate ...string) (Entity, error)
	FindMany(ctx context.Context, uid string, q Query) ([]Entity, error)
	Create(ctx context.Context, uid string, data map[string]any) (Entity, error)
	Update(ctx context.Context, uid string, id int64, data map[string]any) (Entity, error)
	Close() error
}
