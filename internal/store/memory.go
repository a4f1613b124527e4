package store

import (
	"context"
	"fmt"
	"sync"

	logx "clubqueue/pkg/logx"
)

// Memory is an in-process ContentStore. With a journal attached (file
// driver) every write is also appended to disk.
type Memory struct {
	mu     sync.RWMutex
	log    logx.Logger
	docs   map[string]map[int64]string
	seq    map[string]int64
	closed bool

	journal *fileJournal
}

func NewMemory(log logx.Logger) *Memory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Memory{
		log:  log,
		docs: map[string]map[int64]string{},
		seq:  map[string]int64{},
	}
}

func (m *Memory) get(ctx context.Context, uid string, id int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrClosed
	}
	doc, ok := m.docs[uid][id]
	if !ok {
		return "", fmt.Errorf("%s %d: %w", uid, id, ErrNotFound)
	}
	return doc, nil
}

func (m *Memory) FindOne(ctx context.Context, uid string, id int64, populate ...string) (Entity, error) {
	if !knownType(uid) {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownType, uid)
	}
	doc, err := m.get(ctx, uid, id)
	if err != nil {
		return Entity{}, err
	}
	doc, err = populateDoc(ctx, m.get, uid, doc, populate)
	if err != nil {
		return Entity{}, err
	}
	return newEntity(uid, id, doc), nil
}

func (m *Memory) FindMany(ctx context.Context, uid string, q Query) ([]Entity, error) {
	if !knownType(uid) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, uid)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	recs := make([]record, 0, len(m.docs[uid]))
	for id, doc := range m.docs[uid] {
		if matchesFilters(doc, q.Filters) {
			recs = append(recs, record{id: id, doc: doc})
		}
	}
	m.mu.RUnlock()

	sortRecords(recs, q.Sort)
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	out := make([]Entity, 0, len(recs))
	for _, r := range recs {
		doc, err := populateDoc(ctx, m.get, uid, r.doc, q.Populate)
		if err != nil {
			return nil, err
		}
		out = append(out, newEntity(uid, r.id, doc))
	}
	return out, nil
}

// Create stores a new entity. An explicit "id" in data is kept; otherwise the
// next id for the content type is assigned.
func (m *Memory) Create(ctx context.Context, uid string, data map[string]any) (Entity, error) {
	if !knownType(uid) {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownType, uid)
	}
	if err := ctx.Err(); err != nil {
		return Entity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Entity{}, ErrClosed
	}
	id := dataID(data)
	if id <= 0 {
		id = m.seq[uid] + 1
	}
	if _, exists := m.docs[uid][id]; exists {
		return Entity{}, fmt.Errorf("%s %d already exists", uid, id)
	}
	doc, err := mergeDoc("", id, data)
	if err != nil {
		return Entity{}, err
	}
	if err := m.putLocked(uid, id, doc); err != nil {
		return Entity{}, err
	}
	return newEntity(uid, id, doc), nil
}

// Update shallow-merges data into an existing entity.
func (m *Memory) Update(ctx context.Context, uid string, id int64, data map[string]any) (Entity, error) {
	if !knownType(uid) {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownType, uid)
	}
	if err := ctx.Err(); err != nil {
		return Entity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Entity{}, ErrClosed
	}
	cur, ok := m.docs[uid][id]
	if !ok {
		return Entity{}, fmt.Errorf("%s %d: %w", uid, id, ErrNotFound)
	}
	doc, err := mergeDoc(cur, id, data)
	if err != nil {
		return Entity{}, err
	}
	if err := m.putLocked(uid, id, doc); err != nil {
		return Entity{}, err
	}
	return newEntity(uid, id, doc), nil
}

// Call with m.mu held.
func (m *Memory) putLocked(uid string, id int64, doc string) error {
	if m.journal != nil {
		if err := m.journal.append(uid, id, doc); err != nil {
			return err
		}
	}
	m.setLocked(uid, id, doc)
	if m.journal != nil && m.journal.due() {
		if err := m.journal.compact(m.docs); err != nil {
			m.log.Debug("store compact failed", logx.Err(err))
		}
	}
	return nil
}

func (m *Memory) setLocked(uid string, id int64, doc string) {
	byID := m.docs[uid]
	if byID == nil {
		byID = map[int64]string{}
		m.docs[uid] = byID
	}
	byID[id] = doc
	if id > m.seq[uid] {
		m.seq[uid] = id
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.journal == nil {
		return nil
	}
	err := m.journal.compact(m.docs)
	if cerr := m.journal.close(); err == nil {
		err = cerr
	}
	return err
}
