package store

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Entity is a read-only view of a stored document.
type Entity struct {
	UID string
	ID  int64
	raw string
}

func newEntity(uid string, id int64, raw string) Entity {
	return Entity{UID: uid, ID: id, raw: raw}
}

// Raw returns the JSON document.
func (e Entity) Raw() string { return e.raw }

func (e Entity) Get(path string) gjson.Result { return gjson.Get(e.raw, path) }

func (e Entity) Exists(path string) bool { return gjson.Get(e.raw, path).Exists() }

// Num reads a numeric field. Missing, null and non-numeric values read as 0.
func (e Entity) Num(path string) float64 {
	r := gjson.Get(e.raw, path)
	var v float64
	switch r.Type {
	case gjson.Number:
		v = r.Num
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0
		}
		v = f
	default:
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Int is Num truncated to an int, saturating at the int range.
func (e Entity) Int(path string) int {
	v := e.Num(path)
	switch {
	case v >= math.MaxInt:
		return math.MaxInt
	case v <= math.MinInt:
		return math.MinInt
	}
	return int(v)
}

func (e Entity) Str(path string) string {
	r := gjson.Get(e.raw, path)
	if r.Type == gjson.Null || !r.Exists() {
		return ""
	}
	return r.String()
}

// RefID returns the id held by a single relation field, populated or not.
func (e Entity) RefID(field string) int64 {
	r := gjson.Get(e.raw, field)
	if r.IsObject() {
		return r.Get("id").Int()
	}
	if r.Type == gjson.Number {
		return r.Int()
	}
	return 0
}

// IDs returns the ids held by a relation field, populated or not.
func (e Entity) IDs(field string) []int64 {
	r := gjson.Get(e.raw, field)
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	var out []int64
	add := func(v gjson.Result) {
		switch {
		case v.IsObject():
			if id := v.Get("id").Int(); id > 0 {
				out = append(out, id)
			}
		case v.Type == gjson.Number:
			out = append(out, v.Int())
		}
	}
	if r.IsArray() {
		r.ForEach(func(_, v gjson.Result) bool {
			add(v)
			return true
		})
	} else {
		add(r)
	}
	return out
}

// Related returns the populated documents of a relation field. Unpopulated
// ids come back as entities holding only their id.
func (e Entity) Related(field string) []Entity {
	target, _ := RelationTarget(e.UID, field)
	r := gjson.Get(e.raw, field)
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	var out []Entity
	add := func(v gjson.Result) {
		switch {
		case v.IsObject():
			out = append(out, newEntity(target, v.Get("id").Int(), v.Raw))
		case v.Type == gjson.Number:
			out = append(out, newEntity(target, v.Int(), `{"id":`+v.Raw+`}`))
		}
	}
	if r.IsArray() {
		r.ForEach(func(_, v gjson.Result) bool {
			add(v)
			return true
		})
	} else {
		add(r)
	}
	return out
}
