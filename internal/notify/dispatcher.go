package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"customeragent/internal/eventbus"
	"customeragent/internal/model"
	"customeragent/pkg/logx"
)

// Config controls the dispatcher's side effects.
type Config struct {
	Sounds          bool
	OSNotifications bool
	AlertsPerSec    int // rate limit for sound/OS alerts; default 2
}

// Dispatcher fans a delivered notification out to the badge, the sound
// player, the OS notifier, and the dedup store.
//
// It may be invoked concurrently from both delivery channels within the same
// window; the store's dedup-by-id makes that safe, and a duplicate produces
// no side effects at all (no badge bump, no sound, no OS banner).
type Dispatcher struct {
	store *Store
	badge BadgeSink
	sound SoundPlayer
	osn   OSNotifier

	mu     sync.RWMutex
	cfg    Config
	alerts *rate.Limiter

	bus eventbus.Bus
	log logx.Logger
}

func NewDispatcher(cfg Config, store *Store, badge BadgeSink, sound SoundPlayer, osn OSNotifier, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if cfg.AlertsPerSec <= 0 {
		cfg.AlertsPerSec = 2
	}
	if badge == nil {
		badge = NewLogBadge(log)
	}
	if sound == nil {
		sound = NopSound()
	}
	if osn == nil {
		osn = DeniedNotifier()
	}
	return &Dispatcher{
		store:  store,
		badge:  badge,
		sound:  sound,
		osn:    osn,
		cfg:    cfg,
		alerts: rate.NewLimiter(rate.Limit(cfg.AlertsPerSec), cfg.AlertsPerSec),
		bus:    bus,
		log:    log,
	}
}

// Deliver routes one notification through the pipeline. channel names the
// path it arrived on ("worker" or "poll"). Returns the final ID and whether
// the notification was new (false means deduplicated).
func (d *Dispatcher) Deliver(ctx context.Context, n model.Notification, channel string) (string, bool) {
	stored, inserted := d.store.Insert(ctx, n)
	if !inserted {
		d.log.Debug("duplicate notification suppressed",
			logx.String("id", stored.ID), logx.String("channel", channel))
		return stored.ID, false
	}

	d.badge.UpdateBadge(d.store.Unread())

	d.mu.RLock()
	cfg := d.cfg
	alerts := d.alerts
	d.mu.RUnlock()

	// Sound and OS banner are best-effort extras; a burst of deliveries
	// rings once per limiter slot rather than once per item.
	if cfg.Sounds && alerts.Allow() {
		if err := d.sound.Play(stored.Type); err != nil {
			d.log.Debug("sound playback failed", logx.String("type", string(stored.Type)), logx.Err(err))
		}
	}
	if cfg.OSNotifications && d.osn.Permitted() {
		if err := d.osn.Show(stored); err != nil {
			d.log.Debug("os notification failed", logx.String("id", stored.ID), logx.Err(err))
		}
	}

	if d.bus != nil {
		d.bus.Publish(eventbus.Event{
			Type: eventbus.EventNotificationDelivered,
			Time: time.Now(),
			Data: eventbus.DeliveredEvent{Notification: stored, Channel: channel, At: time.Now()},
		})
	}
	d.log.Info("notification delivered",
		logx.String("id", stored.ID), logx.String("type", string(stored.Type)), logx.String("channel", channel))
	return stored.ID, true
}

// Apply swaps the side-effect settings at runtime (config hot-reload).
// In-flight deliveries keep the limiter they started with.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.AlertsPerSec <= 0 {
		cfg.AlertsPerSec = 2
	}
	d.mu.Lock()
	if cfg.AlertsPerSec != d.cfg.AlertsPerSec {
		d.alerts = rate.NewLimiter(rate.Limit(cfg.AlertsPerSec), cfg.AlertsPerSec)
	}
	d.cfg = cfg
	d.mu.Unlock()
}

// MarkRead flips one entry and refreshes the badge. Idempotent.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) bool {
	flipped := d.store.MarkRead(ctx, id)
	if flipped {
		d.badge.UpdateBadge(d.store.Unread())
	}
	return flipped
}

func (d *Dispatcher) MarkAllRead(ctx context.Context) int {
	flipped := d.store.MarkAllRead(ctx)
	if flipped > 0 {
		d.badge.UpdateBadge(0)
	}
	return flipped
}

func (d *Dispatcher) Clear() {
	d.store.Clear()
	d.badge.UpdateBadge(0)
}

func (d *Dispatcher) Store() *Store { return d.store }
