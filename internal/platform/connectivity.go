// Package platform surfaces host signals (connectivity, operator attention)
// as event bus events.
package platform

import (
	"context"
	"errors"
	"sync"
	"time"

	"customeragent/internal/api"
	"customeragent/internal/eventbus"
	"customeragent/pkg/logx"
)

// DefaultProbeInterval is how often the monitor re-checks reachability.
const DefaultProbeInterval = 30 * time.Second

// Monitor watches backend reachability and publishes net.online/net.offline
// on transitions. Reachable-but-unauthorized still counts as online; only a
// transport failure flips the signal.
type Monitor struct {
	client   api.Client
	bus      eventbus.Bus
	log      logx.Logger
	interval time.Duration

	mu     sync.Mutex
	online bool
	known  bool
}

func NewMonitor(client api.Client, bus eventbus.Bus, interval time.Duration, log logx.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{client: client, bus: bus, log: log, interval: interval}
}

// Online reports the last observed state; true until proven otherwise.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.known || m.online
}

// Run probes on a fixed interval until ctx ends. Intended to run under the
// supervisor.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce checks reachability once and records the result. Without
// credentials there is nothing to probe against, so the state is left as is.
func (m *Monitor) ProbeOnce(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	_, err := m.client.TestConnection(pctx)
	cancel()

	if errors.Is(err, api.ErrNoCredentials) || ctx.Err() != nil {
		return
	}
	m.Set(err == nil)
}

// Set records an externally observed connectivity state (an interface-down
// signal, a failed request elsewhere). Publishes only on transitions.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	typ := eventbus.EventNetOffline
	if online {
		typ = eventbus.EventNetOnline
	}
	m.log.Info("connectivity changed", logx.Bool("online", online))
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: typ, Time: time.Now()})
	}
}

// NotifyVisible publishes a page.visible signal, prompting an out-of-cycle
// health check.
func (m *Monitor) NotifyVisible() {
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.EventPageVisible, Time: time.Now()})
	}
}
