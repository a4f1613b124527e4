package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// getFunc loads a raw document. It returns ErrNotFound for unknown ids.
type getFunc func(ctx context.Context, uid string, id int64) (string, error)

// populateDoc replaces relation ids in doc with the related documents for
// each requested path. Missing targets are dropped from lists and become
// null for single relations.
func populateDoc(ctx context.Context, get getFunc, uid, doc string, paths []string) (string, error) {
	if len(paths) == 0 {
		return doc, nil
	}
	groups := map[string][]string{}
	var order []string
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		head, rest, _ := strings.Cut(p, ".")
		if _, seen := groups[head]; !seen {
			order = append(order, head)
			groups[head] = nil
		}
		if rest != "" {
			groups[head] = append(groups[head], rest)
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return "", fmt.Errorf("decode %s document: %w", uid, err)
	}
	for _, field := range order {
		target, ok := RelationTarget(uid, field)
		if !ok {
			return "", fmt.Errorf("populate %s.%s: not a relation", uid, field)
		}
		r := gjson.Get(doc, field)
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		load := func(v gjson.Result) (json.RawMessage, error) {
			id := v.Int()
			if v.IsObject() {
				id = v.Get("id").Int()
			}
			raw, err := get(ctx, target, id)
			if err != nil {
				return nil, err
			}
			raw, err = populateDoc(ctx, get, target, raw, groups[field])
			if err != nil {
				return nil, err
			}
			return json.RawMessage(raw), nil
		}

		if r.IsArray() {
			items := []json.RawMessage{}
			var ferr error
			r.ForEach(func(_, v gjson.Result) bool {
				raw, err := load(v)
				if errors.Is(err, ErrNotFound) {
					return true
				}
				if err != nil {
					ferr = err
					return false
				}
				items = append(items, raw)
				return true
			})
			if ferr != nil {
				return "", ferr
			}
			b, err := json.Marshal(items)
			if err != nil {
				return "", err
			}
			fields[field] = b
			continue
		}

		raw, err := load(r)
		if errors.Is(err, ErrNotFound) {
			fields[field] = json.RawMessage("null")
			continue
		}
		if err != nil {
			return "", err
		}
		fields[field] = raw
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// mergeDoc shallow-merges data into doc and pins the id.
func mergeDoc(doc string, id int64, data map[string]any) (string, error) {
	fields := map[string]json.RawMessage{}
	if doc != "" {
		if err := json.Unmarshal([]byte(doc), &fields); err != nil {
			return "", fmt.Errorf("decode document: %w", err)
		}
	}
	for k, v := range data {
		if k == "id" {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode field %s: %w", k, err)
		}
		fields[k] = b
	}
	fields["id"] = json.RawMessage(fmt.Sprint(id))
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// dataID returns an explicit positive id carried in create data.
func dataID(data map[string]any) int64 {
	switch v := data["id"].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// matchesFilters evaluates Query.Filters against a document.
func matchesFilters(doc string, filters map[string]any) bool {
	for field, want := range filters {
		if !matchValue(gjson.Get(doc, field), want) {
			return false
		}
	}
	return true
}

func matchValue(r gjson.Result, want any) bool {
	if want == nil {
		return !r.Exists() || r.Type == gjson.Null
	}
	if r.IsArray() {
		found := false
		r.ForEach(func(_, v gjson.Result) bool {
			if v.IsObject() {
				v = v.Get("id")
			}
			found = matchValue(v, want)
			return !found
		})
		return found
	}
	if r.IsObject() {
		r = r.Get("id")
	}
	switch w := want.(type) {
	case string:
		return r.Type == gjson.String && r.Str == w
	case bool:
		return (r.Type == gjson.True && w) || (r.Type == gjson.False && !w)
	case int:
		return r.Type == gjson.Number && r.Num == float64(w)
	case int64:
		return r.Type == gjson.Number && r.Num == float64(w)
	case float64:
		return r.Type == gjson.Number && r.Num == w
	default:
		return r.String() == fmt.Sprint(w)
	}
}

type record struct {
	id  int64
	doc string
}

// sortRecords orders by Query.Sort, then id.
func sortRecords(recs []record, field string) {
	desc := strings.HasPrefix(field, "-")
	field = strings.TrimPrefix(field, "-")
	sort.SliceStable(recs, func(i, j int) bool {
		if field != "" {
			a, b := gjson.Get(recs[i].doc, field), gjson.Get(recs[j].doc, field)
			if a.Less(b, true) {
				return !desc
			}
			if b.Less(a, true) {
				return desc
			}
		}
		return recs[i].id < recs[j].id
	})
}
