package storage

import (
	"context"
	"errors"
	"time"

	"customeragent/internal/model"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the persistent notification log.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the notification
// log lives purely in memory.
type Config struct {
	Driver        string
	Path          string
	BusyTimeout   time.Duration // sqlite only; 0 means default
	RetentionDays int           // 0 means keep forever
}

// Store persists delivered notifications and their read state so the
// dashboard survives an agent restart without losing history.
//
// SaveNotification is an idempotent upsert keyed by notification ID: a
// duplicate save never rewrites id, type, or timestamp.
type Store interface {
	SaveNotification(ctx context.Context, n model.Notification) error
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error

	// RecentNotifications returns up to limit entries, most recent first.
	RecentNotifications(ctx context.Context, limit int) ([]model.Notification, error)

	// PruneOlderThan removes entries with a timestamp before cutoff and
	// returns how many were dropped.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}
