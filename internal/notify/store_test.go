package notify

import (
	"context"
	"strconv"
	"testing"

	"customeragent/internal/eventbus"
	"customeragent/internal/model"
	"customeragent/pkg/logx"
)

func newTestStore(limit int) *Store {
	return NewStore(limit, nil, nil, logx.Nop())
}

func TestInsertDedupByID(t *testing.T) {
	t.Parallel()
	s := newTestStore(10)
	ctx := context.Background()

	n := model.Notification{ID: "n1", Type: model.TypeNewCustomer, Title: "a"}
	if _, inserted := s.Insert(ctx, n); !inserted {
		t.Fatalf("first insert rejected")
	}
	if _, inserted := s.Insert(ctx, n); inserted {
		t.Fatalf("duplicate insert accepted")
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
	if got := s.Unread(); got != 1 {
		t.Fatalf("expected unread 1, got %d", got)
	}
}

func TestInsertAssignsLocalIDAndTimestamp(t *testing.T) {
	t.Parallel()
	s := newTestStore(10)

	stored, inserted := s.Insert(context.Background(), model.Notification{Type: model.TypeSystem})
	if !inserted {
		t.Fatalf("insert rejected")
	}
	if stored.ID == "" {
		t.Fatalf("expected a generated ID")
	}
	if stored.Timestamp == 0 {
		t.Fatalf("expected a timestamp")
	}

	// Two ID-less inserts must not collide.
	other, inserted := s.Insert(context.Background(), model.Notification{Type: model.TypeSystem})
	if !inserted || other.ID == stored.ID {
		t.Fatalf("generated IDs collided: %q vs %q", stored.ID, other.ID)
	}
}

func TestMarkReadFlipsAtMostOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(10)
	ctx := context.Background()

	s.Insert(ctx, model.Notification{ID: "n1"})
	s.Insert(ctx, model.Notification{ID: "n2"})

	if !s.MarkRead(ctx, "n1") {
		t.Fatalf("first MarkRead did not flip")
	}
	if s.MarkRead(ctx, "n1") {
		t.Fatalf("second MarkRead flipped again")
	}
	if s.MarkRead(ctx, "missing") {
		t.Fatalf("MarkRead on unknown ID flipped")
	}
	if got := s.Unread(); got != 1 {
		t.Fatalf("expected unread 1, got %d", got)
	}
}

func TestMarkAllRead(t *testing.T) {
	t.Parallel()
	s := newTestStore(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Insert(ctx, model.Notification{ID: "n" + strconv.Itoa(i)})
	}
	s.MarkRead(ctx, "n0")

	if got := s.MarkAllRead(ctx); got != 2 {
		t.Fatalf("expected 2 flipped, got %d", got)
	}
	if got := s.Unread(); got != 0 {
		t.Fatalf("expected unread 0, got %d", got)
	}
	if got := s.MarkAllRead(ctx); got != 0 {
		t.Fatalf("expected 0 flipped on second pass, got %d", got)
	}
}

func TestCapEvictsOldestAndReleasesUnread(t *testing.T) {
	t.Parallel()
	s := newTestStore(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Insert(ctx, model.Notification{ID: "n" + strconv.Itoa(i)})
	}
	if got := s.Len(); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}
	if got := s.Unread(); got != 3 {
		t.Fatalf("expected unread to match entries, got %d", got)
	}

	snap := s.Snapshot()
	if snap[0].ID != "n4" || snap[len(snap)-1].ID != "n2" {
		t.Fatalf("unexpected order after eviction: %+v", snap)
	}
	// Evicted IDs may come back; they are no longer known.
	if _, inserted := s.Insert(ctx, model.Notification{ID: "n0"}); !inserted {
		t.Fatalf("evicted ID still deduplicated")
	}
}

func TestOrderMostRecentFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(10)
	ctx := context.Background()

	s.Insert(ctx, model.Notification{ID: "first"})
	s.Insert(ctx, model.Notification{ID: "second"})

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].ID != "second" || snap[1].ID != "first" {
		t.Fatalf("unexpected order: %+v", snap)
	}
}

func TestClearPublishesAndEmpties(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := NewStore(10, nil, bus, logx.Nop())
	ctx := context.Background()
	s.Insert(ctx, model.Notification{ID: "n1"})

	s.Clear()
	if s.Len() != 0 || s.Unread() != 0 {
		t.Fatalf("store not empty after Clear")
	}

	select {
	case e := <-events:
		if e.Type != eventbus.EventNotificationsCleared {
			t.Fatalf("unexpected event %q", e.Type)
		}
	default:
		t.Fatalf("no cleared event published")
	}
}
