package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"customeragent/internal/model"
	"customeragent/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot: id -> notification)
//   - <prefix>.journal.jsonl (append-only journal of saves and read flips)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	items  map[string]model.Notification
	writes int
}

type journalRecord struct {
	// Op is "save", "read", or "read_all".
	Op           string              `json:"op"`
	ID           string              `json:"id,omitempty"`
	Notification *model.Notification `json:"notification,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	items := map[string]model.Notification{}
	_ = loadSnapshot(snapPath, items)
	_ = replayJournal(journalPath, items)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		items:        items,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) SaveNotification(ctx context.Context, n model.Notification) error {
	_ = ctx
	if strings.TrimSpace(n.ID) == "" {
		return errors.New("notification id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	// Duplicate delivery never rewrites an existing entry.
	if _, ok := s.items[n.ID]; ok {
		return nil
	}
	s.items[n.ID] = n
	return s.appendLocked(journalRecord{Op: "save", Notification: &n})
}

func (s *fileStore) MarkRead(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	n, ok := s.items[id]
	if !ok || n.Read {
		return nil
	}
	n.Read = true
	s.items[id] = n
	return s.appendLocked(journalRecord{Op: "read", ID: id})
}

func (s *fileStore) MarkAllRead(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	changed := false
	for id, n := range s.items {
		if !n.Read {
			n.Read = true
			s.items[id] = n
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.appendLocked(journalRecord{Op: "read_all"})
}

func (s *fileStore) RecentNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	_ = ctx
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	out := make([]model.Notification, 0, len(s.items))
	for _, n := range s.items {
		out = append(out, n)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	_ = ctx
	ms := cutoff.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, n := range s.items {
		if n.Timestamp < ms {
			delete(s.items, id)
			dropped++
		}
	}
	if dropped > 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("prune compact failed", logx.Err(err))
		}
	}
	return dropped, nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.items); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]model.Notification) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]model.Notification
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]model.Notification) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case "save":
			if r.Notification != nil && r.Notification.ID != "" {
				if _, ok := out[r.Notification.ID]; !ok {
					out[r.Notification.ID] = *r.Notification
				}
			}
		case "read":
			if n, ok := out[r.ID]; ok {
				n.Read = true
				out[r.ID] = n
			}
		case "read_all":
			for id, n := range out {
				n.Read = true
				out[id] = n
			}
		}
	}
	return sc.Err()
}
