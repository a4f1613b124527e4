package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	logx "clubqueue/pkg/logx"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLite stores documents as JSON text and filters with json_extract/json_each.
type SQLite struct {
	db  *sql.DB
	log logx.Logger
}

var reFieldPath = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

func openSQLite(cfg Config, log logx.Logger) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &SQLite{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) get(ctx context.Context, uid string, id int64) (string, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM entities WHERE uid = ? AND id = ?`, uid, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %d: %w", uid, id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load %s %d: %w", uid, id, err)
	}
	return doc, nil
}

func (s *SQLite) FindOne(ctx context.Context, uid string, id int64, populate ...string) (Entity, error) {
	if !knownType(uid) {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownType, uid)
	}
	doc, err := s.get(ctx, uid, id)
	if err != nil {
		return Entity{}, err
	}
	doc, err = populateDoc(ctx, s.get, uid, doc, populate)
	if err != nil {
		return Entity{}, err
	}
	return newEntity(uid, id, doc), nil
}

func (s *SQLite) FindMany(ctx context.Context, uid string, q Query) ([]Entity, error) {
	if !knownType(uid) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, uid)
	}
	var (
		b    strings.Builder
		args = []any{uid}
	)
	b.WriteString(`SELECT id, doc FROM entities WHERE uid = ?`)
	for field, want := range q.Filters {
		if !reFieldPath.MatchString(field) {
			return nil, fmt.Errorf("invalid filter field %q", field)
		}
		path := "$." + field
		switch w := want.(type) {
		case nil:
			b.WriteString(` AND json_extract(doc, ?) IS NULL`)
			args = append(args, path)
		default:
			// json_each yields one row for scalars and one per element for
			// arrays, so list relations match by containment.
			b.WriteString(` AND EXISTS (SELECT 1 FROM json_each(entities.doc, ?) je WHERE je.value = ? OR CASE WHEN je.type = 'object' THEN json_extract(je.value, '$.id') = ? ELSE 0 END)`)
			v := sqlValue(w)
			args = append(args, path, v, v)
		}
	}
	if q.Sort != "" {
		field := strings.TrimPrefix(q.Sort, "-")
		if !reFieldPath.MatchString(field) {
			return nil, fmt.Errorf("invalid sort field %q", field)
		}
		dir := "ASC"
		if strings.HasPrefix(q.Sort, "-") {
			dir = "DESC"
		}
		b.WriteString(` ORDER BY json_extract(doc, ?) ` + dir + `, id ASC`)
		args = append(args, "$."+field)
	} else {
		b.WriteString(` ORDER BY id ASC`)
	}
	if q.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", uid, err)
	}
	var recs []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.id, &r.doc); err != nil {
			_ = rows.Close()
			return nil, err
		}
		recs = append(recs, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Entity, 0, len(recs))
	for _, r := range recs {
		doc, err := populateDoc(ctx, s.get, uid, r.doc, q.Populate)
		if err != nil {
			return nil, err
		}
		out = append(out, newEntity(uid, r.id, doc))
	}
	return out, nil
}

func (s *SQLite) Create(ctx context.Context, uid string, data map[string]any) (Entity, error) {
	if !knownType(uid) {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownType, uid)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entity{}, err
	}
	defer func() { _ = tx.Rollback() }()

	id := dataID(data)
	if id <= 0 {
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM entities WHERE uid = ?`, uid).Scan(&id); err != nil {
			return Entity{}, err
		}
	}
	doc, err := mergeDoc("", id, data)
	if err != nil {
		return Entity{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities(uid, id, doc, updated_at) VALUES(?,?,?,?)`,
		uid, id, doc, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return Entity{}, fmt.Errorf("create %s %d: %w", uid, id, err)
	}
	if err := tx.Commit(); err != nil {
		return Entity{}, err
	}
	return newEntity(uid, id, doc), nil
}

func (s *SQLite) Update(ctx context.Context, uid string, id int64, data map[string]any) (Entity, error) {
	if !knownType(uid) {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownType, uid)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entity{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var cur string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM entities WHERE uid = ? AND id = ?`, uid, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("%s %d: %w", uid, id, ErrNotFound)
	}
	if err != nil {
		return Entity{}, err
	}
	doc, err := mergeDoc(cur, id, data)
	if err != nil {
		return Entity{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET doc = ?, updated_at = ? WHERE uid = ? AND id = ?`,
		doc, time.Now().UTC().Format(time.RFC3339Nano), uid, id,
	); err != nil {
		return Entity{}, fmt.Errorf("update %s %d: %w", uid, id, err)
	}
	if err := tx.Commit(); err != nil {
		return Entity{}, err
	}
	return newEntity(uid, id, doc), nil
}

func sqlValue(v any) any {
	switch w := v.(type) {
	case bool:
		if w {
			return 1
		}
		return 0
	case int:
		return int64(w)
	case int32:
		return int64(w)
	default:
		return v
	}
}

// IsTransient reports whether err is a store condition worth retrying
// (database busy or locked).
func IsTransient(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
