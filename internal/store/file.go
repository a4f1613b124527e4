package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	logx "clubqueue/pkg/logx"
)

const compactEvery = 500

// fileJournal persists a Memory store.
//
// Files:
//   - <prefix>.snapshot.json (uid -> id -> document)
//   - <prefix>.journal.jsonl (append-only writes since the last snapshot)
//
// The journal is compacted into the snapshot periodically and on close.
type fileJournal struct {
	snapshotPath string
	f            *os.File
	writes       int
}

type journalRecord struct {
	UID string          `json:"uid"`
	ID  int64           `json:"id"`
	Doc json.RawMessage `json:"doc"`
}

func openFile(cfg Config, log logx.Logger) (*Memory, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	m := NewMemory(log)
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"
	if err := loadSnapshot(snapPath, m); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, m); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	m.journal = &fileJournal{snapshotPath: snapPath, f: f}
	return m, nil
}

func (j *fileJournal) append(uid string, id int64, doc string) error {
	if j.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(j.f).Encode(journalRecord{UID: uid, ID: id, Doc: json.RawMessage(doc)}); err != nil {
		return err
	}
	j.writes++
	return nil
}

func (j *fileJournal) due() bool { return j.writes >= compactEvery }

func (j *fileJournal) compact(docs map[string]map[int64]string) error {
	snap := make(map[string]map[int64]json.RawMessage, len(docs))
	for uid, byID := range docs {
		m := make(map[int64]json.RawMessage, len(byID))
		for id, doc := range byID {
			m[id] = json.RawMessage(doc)
		}
		snap[uid] = m
	}
	tmp := j.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.snapshotPath); err != nil {
		return err
	}
	j.writes = 0
	if err := j.f.Truncate(0); err != nil {
		return err
	}
	_, err = j.f.Seek(0, 2)
	return err
}

func (j *fileJournal) close() error {
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

func loadSnapshot(path string, m *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap map[string]map[int64]json.RawMessage
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for uid, byID := range snap {
		for id, doc := range byID {
			m.setLocked(uid, id, string(doc))
		}
	}
	return nil
}

func replayJournal(path string, m *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for s.Scan() {
		var r journalRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil || r.UID == "" || r.ID <= 0 {
			continue
		}
		m.setLocked(r.UID, r.ID, string(r.Doc))
	}
	return s.Err()
}
