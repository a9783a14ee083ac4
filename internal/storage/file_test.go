package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"customeragent/internal/model"
	"customeragent/pkg/logx"
)

func openTestFileStore(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	return st
}

func TestOpenDisabledDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: expected (nil, nil), got (%v, %v)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "notifications.json")
	ctx := context.Background()

	st := openTestFileStore(t, path)
	now := time.Now().UnixMilli()

	n1 := model.Notification{ID: "n1", Type: model.TypeNewCustomer, Title: "a", Timestamp: now - 10}
	n2 := model.Notification{ID: "n2", Type: model.TypeHelpNeeded, Title: "b", Timestamp: now}
	if err := st.SaveNotification(ctx, n1); err != nil {
		t.Fatalf("save n1: %v", err)
	}
	if err := st.SaveNotification(ctx, n2); err != nil {
		t.Fatalf("save n2: %v", err)
	}
	if err := st.MarkRead(ctx, "n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A fresh open replays the journal.
	st = openTestFileStore(t, path)
	defer st.Close()

	recent, err := st.RecentNotifications(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].ID != "n2" || recent[1].ID != "n1" {
		t.Fatalf("wrong order: %+v", recent)
	}
	if !recent[1].Read || recent[0].Read {
		t.Fatalf("read flags lost: %+v", recent)
	}
}

func TestFileStoreDuplicateSaveKeepsOriginal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "notifications.json")
	ctx := context.Background()

	st := openTestFileStore(t, path)
	defer st.Close()

	orig := model.Notification{ID: "n1", Title: "original", Timestamp: 100}
	if err := st.SaveNotification(ctx, orig); err != nil {
		t.Fatalf("save: %v", err)
	}
	dup := model.Notification{ID: "n1", Title: "rewritten", Timestamp: 999}
	if err := st.SaveNotification(ctx, dup); err != nil {
		t.Fatalf("duplicate save errored: %v", err)
	}

	recent, err := st.RecentNotifications(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Title != "original" || recent[0].Timestamp != 100 {
		t.Fatalf("duplicate save rewrote entry: %+v", recent)
	}
}

func TestFileStoreMarkAllReadAndPrune(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "notifications.json")
	ctx := context.Background()

	st := openTestFileStore(t, path)
	defer st.Close()

	cutoff := time.Now()
	old := model.Notification{ID: "old", Timestamp: cutoff.Add(-48 * time.Hour).UnixMilli()}
	fresh := model.Notification{ID: "fresh", Timestamp: cutoff.Add(time.Minute).UnixMilli()}
	_ = st.SaveNotification(ctx, old)
	_ = st.SaveNotification(ctx, fresh)

	if err := st.MarkAllRead(ctx); err != nil {
		t.Fatalf("mark all read: %v", err)
	}

	dropped, err := st.PruneOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("expected 1 pruned, got %d", dropped)
	}

	recent, err := st.RecentNotifications(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "fresh" || !recent[0].Read {
		t.Fatalf("unexpected survivors: %+v", recent)
	}
}

func TestFileStoreRequiresID(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "notifications.json")

	st := openTestFileStore(t, path)
	defer st.Close()

	if err := st.SaveNotification(context.Background(), model.Notification{}); err == nil {
		t.Fatalf("empty ID accepted")
	}
}
