package delivery

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"customeragent/internal/api"
	"customeragent/internal/model"
	"customeragent/internal/session"
	"customeragent/pkg/logx"
)

// Dispatcher is the slice of the notification pipeline the poller needs.
type Dispatcher interface {
	Deliver(ctx context.Context, n model.Notification, channel string) (id string, inserted bool)
}

// DefaultPollInterval is the fast-fallback cadence.
const DefaultPollInterval = 20 * time.Second

// Poller is the foreground fallback channel: a fixed-interval fetch of
// pending notifications, used whenever the worker cannot be relied on.
//
// The protocol is at-least-once with batch acknowledgment: every fetched item
// is dispatched first, then one "mark received" call acknowledges the whole
// batch. If the acknowledgment fails the server re-sends the same items on
// the next poll and the store's dedup-by-id absorbs them. Fetch and ack
// failures are logged and never escalate; the interval never changes.
type Poller struct {
	client api.Client
	sess   *session.Session
	sel    *Selector
	disp   Dispatcher

	interval time.Duration
	log      logx.Logger

	// errLog keeps a flapping server from flooding the log at WARN; the
	// poll cadence itself is never throttled.
	errLog *rate.Limiter
}

func NewPoller(client api.Client, sess *session.Session, sel *Selector, disp Dispatcher, interval time.Duration, log logx.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		client:   client,
		sess:     sess,
		sel:      sel,
		disp:     disp,
		interval: interval,
		log:      log,
		errLog:   rate.NewLimiter(rate.Every(time.Minute), 3),
	}
}

func (p *Poller) Interval() time.Duration { return p.interval }

// Run loops until ctx ends. Intended to run under the supervisor.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce performs a single fetch+dispatch+ack cycle when the session is
// connected and the fallback channel is armed. Safe to call concurrently
// with worker deliveries.
func (p *Poller) PollOnce(ctx context.Context) {
	if !p.sess.Connected() || !p.sel.PollingArmed() {
		return
	}
	epoch := p.sess.Epoch()

	items, err := p.client.GetPendingNotifications(ctx)
	if err != nil {
		if p.errLog.Allow() {
			p.log.Warn("poll fetch failed",
				logx.String("channel_state", string(p.sel.State())), logx.Err(err))
		}
		return
	}

	// The session may have disconnected while the fetch was in flight;
	// discard the result rather than act on stale credentials.
	if !p.sess.Still(epoch) {
		p.log.Debug("poll result discarded (session changed)")
		return
	}

	if len(items) > 0 {
		ids := make([]string, 0, len(items))
		for _, n := range items {
			id, _ := p.disp.Deliver(ctx, n, "poll")
			if n.ID != "" {
				// Only server-issued IDs can be acknowledged.
				ids = append(ids, id)
			}
		}
		if err := p.client.MarkNotificationsReceived(ctx, ids); err != nil {
			// Tolerated: the batch comes back next poll and dedup absorbs it.
			p.log.Warn("poll acknowledge failed; duplicates expected next cycle",
				logx.Int("batch", len(ids)), logx.Err(err))
		}
		p.log.Debug("poll delivered", logx.Int("count", len(items)))
	}

	p.sel.NoteFallbackEngaged()
}
