package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	logx "clubqueue/pkg/logx"
)

// Open initializes the configured content store.
func Open(cfg Config, log logx.Logger) (ContentStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(log), nil
	case "file":
		m, err := openFile(cfg, log)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}

// Seed creates the entities in r, a JSON object of uid -> list of documents.
// Documents keep their "id". Existing ids are updated instead of recreated.
func Seed(ctx context.Context, cs ContentStore, r io.Reader) (int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var data map[string][]map[string]any
	if err := dec.Decode(&data); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}
	uids := make([]string, 0, len(data))
	for uid := range data {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	n := 0
	for _, uid := range uids {
		for _, doc := range data[uid] {
			for k, v := range doc {
				doc[k] = fromNumber(v)
			}
			id := dataID(doc)
			if id > 0 {
				if _, err := cs.Update(ctx, uid, id, doc); err == nil {
					n++
					continue
				} else if !errors.Is(err, ErrNotFound) {
					return n, err
				}
			}
			if _, err := cs.Create(ctx, uid, doc); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// fromNumber turns json.Number values (also inside lists) back into int64 or float64.
func fromNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = fromNumber(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = fromNumber(t[k])
		}
		return t
	}
	return v
}
