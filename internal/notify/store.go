package notify

import (
	"context"
	"sync"
	"time"

	"customeragent/internal/eventbus"
	"customeragent/internal/model"
	"customeragent/internal/storage"
	"customeragent/pkg/logx"
)

// Store is the deduplicated, ordered notification log.
//
// Both delivery channels feed it, and with a worker push racing a fallback
// poll the same server ID routinely arrives twice — so Insert checks
// existence by ID before prepending. One ID, one entry, one unread count,
// regardless of channel or retry.
//
// Ordering is most-recent-first (insertion order is display order). ID and
// Timestamp are immutable once inserted; Read is the only mutable field.
type Store struct {
	mu     sync.Mutex
	items  []*model.Notification // most-recent-first
	index  map[string]*model.Notification
	unread int
	limit  int

	persist storage.Store // optional write-through
	bus     eventbus.Bus
	log     logx.Logger
}

// NewStore builds a store capped at limit entries (0 means 500).
// persist may be nil for a memory-only log.
func NewStore(limit int, persist storage.Store, bus eventbus.Bus, log logx.Logger) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{
		items:   make([]*model.Notification, 0, 32),
		index:   map[string]*model.Notification{},
		limit:   limit,
		persist: persist,
		bus:     bus,
		log:     log,
	}
}

// LoadRecent seeds the in-memory log from the persistent store.
func (s *Store) LoadRecent(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	recent, err := s.persist.RecentNotifications(ctx, s.limit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range recent {
		n := recent[i]
		if _, ok := s.index[n.ID]; ok {
			continue
		}
		cp := n
		s.items = append(s.items, &cp)
		s.index[cp.ID] = &cp
		if !cp.Read {
			s.unread++
		}
	}
	return nil
}

// Insert adds n unless its ID is already present. Missing ID and Timestamp
// are assigned. Returns the final notification and whether it was inserted
// (false means duplicate; no state changed).
func (s *Store) Insert(ctx context.Context, n model.Notification) (model.Notification, bool) {
	now := time.Now()
	if n.ID == "" {
		n.ID = model.NewLocalID(now)
	}
	if n.Timestamp == 0 {
		n.Timestamp = now.UnixMilli()
	}

	s.mu.Lock()
	if existing, ok := s.index[n.ID]; ok {
		cp := *existing
		s.mu.Unlock()
		return cp, false
	}

	cp := n
	s.items = append([]*model.Notification{&cp}, s.items...)
	s.index[cp.ID] = &cp
	if !cp.Read {
		s.unread++
	}

	// Cap the log; evicted entries release their unread slot so the badge
	// always equals the number of unread entries actually in the list.
	for len(s.items) > s.limit {
		last := s.items[len(s.items)-1]
		s.items = s.items[:len(s.items)-1]
		delete(s.index, last.ID)
		if !last.Read {
			s.unread--
		}
	}
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveNotification(ctx, cp); err != nil {
			s.log.Warn("notification persist failed", logx.String("id", cp.ID), logx.Err(err))
		}
	}
	return cp, true
}

// MarkRead flips read at most once per ID. The unread counter decrements by
// exactly one on the first flip and never again.
func (s *Store) MarkRead(ctx context.Context, id string) bool {
	s.mu.Lock()
	n, ok := s.index[id]
	if !ok || n.Read {
		s.mu.Unlock()
		return false
	}
	n.Read = true
	s.unread--
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.MarkRead(ctx, id); err != nil {
			s.log.Warn("mark read persist failed", logx.String("id", id), logx.Err(err))
		}
	}
	return true
}

// MarkAllRead returns how many entries were flipped.
func (s *Store) MarkAllRead(ctx context.Context) int {
	s.mu.Lock()
	flipped := 0
	for _, n := range s.items {
		if !n.Read {
			n.Read = true
			flipped++
		}
	}
	s.unread = 0
	s.mu.Unlock()

	if flipped > 0 && s.persist != nil {
		if err := s.persist.MarkAllRead(ctx); err != nil {
			s.log.Warn("mark all read persist failed", logx.Err(err))
		}
	}
	return flipped
}

// Clear empties the visible log. Persisted history is kept until retention
// pruning; only the in-memory list resets.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = s.items[:0]
	s.index = map[string]*model.Notification{}
	s.unread = 0
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventNotificationsCleared, Time: time.Now()})
	}
}

func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot copies the log, most recent first.
func (s *Store) Snapshot() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notification, 0, len(s.items))
	for _, n := range s.items {
		out = append(out, *n)
	}
	return out
}
