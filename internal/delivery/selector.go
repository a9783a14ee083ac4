package delivery

import (
	"sync"
	"time"

	"customeragent/internal/eventbus"
	"customeragent/pkg/logx"
)

// State is the delivery channel state. Exactly one holds at any instant.
type State string

const (
	StateInit               State = "init"
	StateWorkerActive       State = "worker_active"
	StateWorkerUnresponsive State = "worker_unresponsive"
	StateWorkerUnavailable  State = "worker_unavailable"
	StateFallbackPolling    State = "fallback_polling"
)

// Selector is the pure state machine that decides which channel delivers.
//
// Recovery back to WORKER_ACTIVE is guarded by a fallback generation counter:
// every signal that engages fallback bumps the generation, and a probe
// acknowledgment only restores the worker channel if the generation has not
// moved since the probe was sent. A late Pong can therefore never retract a
// fallback that engaged while it was in flight; the next health-check cycle
// (whose probe captures the new generation) does the restoring.
//
// There is no terminal state; Reset returns the machine to init on disconnect.
type Selector struct {
	mu          sync.Mutex
	state       State
	fallbackGen uint64

	bus eventbus.Bus
	log logx.Logger
}

func NewSelector(bus eventbus.Bus, log logx.Logger) *Selector {
	return &Selector{state: StateInit, bus: bus, log: log}
}

func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PollingArmed reports whether the fallback channel should be delivering.
// The poller checks this every tick; the worker channel and the poller are
// never both selected.
func (s *Selector) PollingArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateWorkerUnresponsive, StateWorkerUnavailable, StateFallbackPolling:
		return true
	default:
		return false
	}
}

// ProbeStarted captures the fallback generation at probe-send time.
// Pass the value to MarkWorkerActive with the acknowledgment.
func (s *Selector) ProbeStarted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbackGen
}

// MarkWorkerActive transitions to WORKER_ACTIVE on a successful probe
// acknowledgment. It refuses (returns false) when fallback engaged after the
// probe was sent, i.e. gen is stale.
func (s *Selector) MarkWorkerActive(gen uint64) bool {
	s.mu.Lock()
	if gen != s.fallbackGen {
		cur := s.state
		s.mu.Unlock()
		s.log.Debug("stale probe ack ignored", logx.String("state", string(cur)), logx.Uint64("gen", gen))
		return false
	}
	if s.state == StateWorkerActive {
		s.mu.Unlock()
		return true
	}
	from := s.state
	s.state = StateWorkerActive
	s.mu.Unlock()

	s.announce(from, StateWorkerActive)
	return true
}

// MarkUnresponsive records a health-check timeout. Arms the poller and
// engages fallback (bumps the generation).
func (s *Selector) MarkUnresponsive() {
	s.transitionAndEngage(StateWorkerUnresponsive)
}

// MarkUnavailable records registration exhaustion or platform incapability.
// Reached from any state; arms the poller.
func (s *Selector) MarkUnavailable() {
	s.transitionAndEngage(StateWorkerUnavailable)
}

// NoteFallbackEngaged is called by the poller once it actually starts
// delivering; the machine settles into FALLBACK_POLLING. The generation was
// already bumped by the signal that armed the poller, so a probe sent from
// here on may still restore the worker channel.
func (s *Selector) NoteFallbackEngaged() {
	s.mu.Lock()
	if s.state != StateWorkerUnresponsive && s.state != StateWorkerUnavailable {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = StateFallbackPolling
	s.mu.Unlock()

	s.announce(from, StateFallbackPolling)
}

// Reset returns to init on disconnect.
func (s *Selector) Reset() {
	s.mu.Lock()
	from := s.state
	s.state = StateInit
	s.fallbackGen++
	s.mu.Unlock()

	if from != StateInit {
		s.announce(from, StateInit)
	}
}

func (s *Selector) transitionAndEngage(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.fallbackGen++
		s.mu.Unlock()
		return
	}
	s.state = to
	s.fallbackGen++
	s.mu.Unlock()

	s.announce(from, to)
}

func (s *Selector) announce(from, to State) {
	s.log.Info("delivery channel state changed", logx.String("from", string(from)), logx.String("to", string(to)))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.EventChannelState,
			Time: time.Now(),
			Data: eventbus.ChannelEvent{From: string(from), To: string(to), At: time.Now()},
		})
	}
}
