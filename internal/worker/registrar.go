package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"customeragent/internal/delivery"
	"customeragent/internal/eventbus"
	"customeragent/internal/model"
	"customeragent/internal/msgbus"
	"customeragent/internal/session"
	"customeragent/pkg/logx"
)

// Config tunes registration retries and health checking.
type Config struct {
	Scope          string
	MaxAttempts    int
	RetryBase      time.Duration
	RetryGrowth    float64
	HealthInterval time.Duration
	ProbeTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Scope == "" {
		c.Scope = "/"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 5 * time.Second
	}
	if c.RetryGrowth < 1.0 {
		c.RetryGrowth = 1.5
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 7 * time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	return c
}

// Registrar drives the background unit's lifecycle: bounded-backoff
// registration, the periodic health cycle, and re-registration after
// failures. It is the only writer of the delivery selector's worker side.
//
// Register is idempotent while an attempt sequence is in flight; concurrent
// callers collapse into the sequence already running.
type Registrar struct {
	rt   Runtime
	sel  *delivery.Selector
	sess *session.Session
	bus  eventbus.Bus
	log  logx.Logger
	cfg  Config

	onClick func(ctx context.Context, n model.Notification)

	mu        sync.Mutex
	started   bool
	handle    Handle
	attempts  int
	inflight  bool
	exhausted bool
	online    bool

	retryTimer *time.Timer
	cron       *cron.Cron
	runCtx     context.Context
	runCancel  context.CancelFunc
}

func NewRegistrar(cfg Config, rt Runtime, sel *delivery.Selector, sess *session.Session, bus eventbus.Bus, log logx.Logger) *Registrar {
	return &Registrar{
		rt:     rt,
		sel:    sel,
		sess:   sess,
		bus:    bus,
		log:    log,
		cfg:    cfg.withDefaults(),
		online: true,
	}
}

// SetClickHandler installs the callback for notification clicks reported by
// the background unit. Installed before Start.
func (r *Registrar) SetClickHandler(fn func(ctx context.Context, n model.Notification)) {
	r.onClick = fn
}

// Start arms the periodic health cycle. It does not register; call Register
// once the session connects.
func (r *Registrar) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.runCtx, r.runCancel = context.WithCancel(ctx)

	c := cron.New()
	runCtx := r.runCtx
	_, _ = c.AddFunc(fmt.Sprintf("@every %s", r.cfg.HealthInterval), func() {
		r.HealthCheck(runCtx)
	})
	c.Start()
	r.cron = c
}

// Stop tears down the health cycle, any pending retry timer, and the active
// unit. Safe to call more than once.
func (r *Registrar) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cancel := r.runCancel
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	c := r.cron
	r.cron = nil
	h := r.handle
	r.handle = nil
	r.attempts = 0
	r.inflight = false
	r.exhausted = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}
	if h != nil {
		h.Terminate()
	}
}

// Register starts a registration attempt sequence. Idempotent: a live
// registration or an in-flight sequence makes it a no-op, as does a
// disconnected session. On an unsupported platform it short-circuits
// straight to unavailable without consuming attempts.
func (r *Registrar) Register() {
	r.mu.Lock()
	if !r.started || r.inflight || r.handle != nil || !r.sess.Connected() {
		r.mu.Unlock()
		return
	}
	if !r.rt.Supported() {
		r.mu.Unlock()
		r.log.Info("background unit not supported; fallback polling only")
		r.markUnavailable(0, "unsupported platform")
		return
	}
	r.inflight = true
	ctx := r.runCtx
	r.mu.Unlock()

	go r.attempt(ctx)
}

func (r *Registrar) attempt(ctx context.Context) {
	h, err := r.rt.Register(ctx, r.cfg.Scope)
	if ctx.Err() != nil {
		r.mu.Lock()
		r.inflight = false
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.onFailure(ctx, err)
		return
	}
	r.onSuccess(ctx, h)
}

func (r *Registrar) onFailure(ctx context.Context, err error) {
	r.mu.Lock()
	if !r.started || !r.sess.Connected() {
		r.inflight = false
		r.mu.Unlock()
		return
	}
	r.attempts++
	k := r.attempts
	if k >= r.cfg.MaxAttempts {
		r.inflight = false
		r.exhausted = true
		r.mu.Unlock()

		r.log.Error("registration attempts exhausted", logx.Int("attempts", k), logx.Err(err))
		r.markUnavailable(k, err.Error())
		return
	}

	delay := backoffDelay(r.cfg.RetryBase, r.cfg.RetryGrowth, k)
	r.retryTimer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if !r.started || !r.sess.Connected() {
			r.inflight = false
			r.mu.Unlock()
			return
		}
		r.retryTimer = nil
		rctx := r.runCtx
		r.mu.Unlock()
		r.attempt(rctx)
	})
	r.mu.Unlock()

	r.log.Warn("registration failed; retrying",
		logx.Int("attempt", k), logx.Duration("next_in", delay), logx.Err(err))
}

func (r *Registrar) onSuccess(ctx context.Context, h Handle) {
	r.mu.Lock()
	if !r.started || !r.sess.Connected() {
		r.inflight = false
		r.mu.Unlock()
		h.Terminate()
		return
	}
	r.handle = h
	r.attempts = 0
	r.inflight = false
	r.exhausted = false
	online := r.online
	r.mu.Unlock()

	r.log.Info("background unit registered", logx.String("scope", r.cfg.Scope))
	r.publish(eventbus.EventWorkerRegistered, eventbus.WorkerEvent{Scope: r.cfg.Scope, At: time.Now()})

	r.pushCredentials(h)
	_ = h.Endpoint().Send(msgbus.Message{
		Type:    msgbus.TypeConnectivityUpdate,
		Payload: msgbus.ConnectivityUpdate{Online: online, Timestamp: time.Now().UnixMilli()},
	})

	if h.Waiting() {
		r.publish(eventbus.EventUpdateReady, eventbus.WorkerEvent{Scope: r.cfg.Scope, At: time.Now()})
	}

	go r.readLoop(ctx, h)

	// Confirm liveness right away rather than waiting out a full cycle.
	r.HealthCheck(ctx)
}

// readLoop drains worker-initiated messages for the life of the handle.
// Request replies bypass the mailbox, so only unsolicited sends land here.
func (r *Registrar) readLoop(ctx context.Context, h Handle) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-h.Endpoint().Receive():
			if !ok {
				return
			}
			if msg.Type == msgbus.TypeNotificationClick && r.onClick != nil {
				if p, ok := msg.Payload.(msgbus.NotificationClick); ok {
					r.onClick(ctx, p.Notification)
				}
			}
		}
	}
}

// HealthCheck probes the active unit once. A timeout marks the channel
// unresponsive and kicks off re-registration; with no active unit it starts
// registration instead (unless attempts are exhausted).
func (r *Registrar) HealthCheck(ctx context.Context) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	h := r.handle
	online := r.online
	exhausted := r.exhausted
	inflight := r.inflight
	r.mu.Unlock()

	if h == nil {
		if online && !exhausted && !inflight {
			r.Register()
		}
		return
	}

	gen := r.sel.ProbeStarted()
	pctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	reply, err := h.Endpoint().Request(pctx, msgbus.Message{
		Type:    msgbus.TypePing,
		Payload: msgbus.Ping{Timestamp: time.Now().UnixMilli()},
	})
	cancel()

	if err != nil {
		r.log.Warn("health check failed", logx.Err(err))
		r.publish(eventbus.EventWorkerUnresponsive, eventbus.WorkerEvent{Scope: r.cfg.Scope, Error: err.Error(), At: time.Now()})
		r.sel.MarkUnresponsive()

		r.mu.Lock()
		if r.handle == h {
			r.handle = nil
		}
		r.mu.Unlock()
		h.Terminate()

		if online {
			r.Register()
		}
		return
	}

	pong, _ := reply.Payload.(msgbus.Pong)
	if r.sel.MarkWorkerActive(gen) {
		r.log.Debug("background unit healthy", logx.Bool("authenticated", pong.Authenticated))
	}
}

// OnOnline records connectivity restoration: it resets an exhausted attempt
// counter and registers again, and forwards the signal to the active unit.
func (r *Registrar) OnOnline() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.online = true
	wasExhausted := r.exhausted
	if wasExhausted {
		r.exhausted = false
		r.attempts = 0
	}
	h := r.handle
	r.mu.Unlock()

	if h != nil {
		_ = h.Endpoint().Send(msgbus.Message{
			Type:    msgbus.TypeConnectivityUpdate,
			Payload: msgbus.ConnectivityUpdate{Online: true, Timestamp: time.Now().UnixMilli()},
		})
	}
	if wasExhausted || h == nil {
		r.Register()
	}
}

// OnOffline forwards the loss of connectivity to the active unit. Nothing is
// torn down; the unit simply stops fetching until the signal flips back.
func (r *Registrar) OnOffline() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.online = false
	h := r.handle
	r.mu.Unlock()

	if h != nil {
		_ = h.Endpoint().Send(msgbus.Message{
			Type:    msgbus.TypeConnectivityUpdate,
			Payload: msgbus.ConnectivityUpdate{Online: false, Timestamp: time.Now().UnixMilli()},
		})
	}
}

// OnDisconnected tears down the active unit when the session ends, taking
// the unit's credential copy and self-check ticker with it, and cancels any
// pending retry. The health cycle keeps ticking but stays idle until the
// next connect.
func (r *Registrar) OnDisconnected() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
		r.inflight = false
	}
	h := r.handle
	r.handle = nil
	r.attempts = 0
	r.exhausted = false
	r.mu.Unlock()

	if h != nil {
		h.Terminate()
		r.log.Info("background unit terminated on disconnect")
	}
}

// OnVisible runs an out-of-cycle health check when the operator surface
// regains focus.
func (r *Registrar) OnVisible() {
	r.mu.Lock()
	started := r.started
	ctx := r.runCtx
	r.mu.Unlock()
	if !started {
		return
	}
	go r.HealthCheck(ctx)
}

// PushCredentials resends the session's credentials to the active unit,
// typically after a reconnect or a key rotation.
func (r *Registrar) PushCredentials() {
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	if h != nil {
		r.pushCredentials(h)
	}
}

// Activate asks the current unit to step aside for a parked update; the next
// health cycle re-registers and picks the update up.
func (r *Registrar) Activate() error {
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	if h == nil {
		return ErrUnsupported
	}
	return h.SkipWaiting()
}

// Attempts reports the current failed-attempt count.
func (r *Registrar) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Active reports whether a registered unit is currently held.
func (r *Registrar) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle != nil
}

func (r *Registrar) pushCredentials(h Handle) {
	creds, ok := r.sess.Current()
	if !ok {
		return
	}
	_ = h.Endpoint().Send(msgbus.Message{
		Type: msgbus.TypeStoreCredentials,
		Payload: msgbus.StoreCredentials{
			APIURL:    creds.APIURL,
			APIKey:    creds.APIKey,
			Timestamp: time.Now().UnixMilli(),
		},
	})
}

func (r *Registrar) markUnavailable(attempts int, reason string) {
	r.publish(eventbus.EventWorkerUnavailable, eventbus.WorkerEvent{
		Scope:    r.cfg.Scope,
		Attempts: attempts,
		Error:    reason,
		At:       time.Now(),
	})
	r.sel.MarkUnavailable()
}

func (r *Registrar) publish(typ string, data eventbus.WorkerEvent) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
	}
}

// backoffDelay is base scaled by growth^(k-1) for the k-th failure.
func backoffDelay(base time.Duration, growth float64, k int) time.Duration {
	d := float64(base)
	for i := 1; i < k; i++ {
		d *= growth
	}
	return time.Duration(d)
}
