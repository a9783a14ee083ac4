package delivery

import (
	"testing"

	"customeragent/pkg/logx"
)

func newTestSelector() *Selector {
	return NewSelector(nil, logx.Nop())
}

func TestSelectorStartsInInit(t *testing.T) {
	t.Parallel()
	s := newTestSelector()
	if got := s.State(); got != StateInit {
		t.Fatalf("expected init, got %q", got)
	}
	if s.PollingArmed() {
		t.Fatalf("poller armed in init")
	}
}

func TestProbeAckActivatesWorker(t *testing.T) {
	t.Parallel()
	s := newTestSelector()

	gen := s.ProbeStarted()
	if !s.MarkWorkerActive(gen) {
		t.Fatalf("fresh probe ack refused")
	}
	if got := s.State(); got != StateWorkerActive {
		t.Fatalf("expected worker_active, got %q", got)
	}
	if s.PollingArmed() {
		t.Fatalf("poller armed while worker active")
	}
}

func TestUnresponsiveArmsPoller(t *testing.T) {
	t.Parallel()
	s := newTestSelector()
	s.MarkWorkerActive(s.ProbeStarted())

	s.MarkUnresponsive()
	if got := s.State(); got != StateWorkerUnresponsive {
		t.Fatalf("expected worker_unresponsive, got %q", got)
	}
	if !s.PollingArmed() {
		t.Fatalf("poller not armed after timeout")
	}
}

func TestExhaustionArmsPollerFromAnyState(t *testing.T) {
	t.Parallel()
	for _, setup := range []func(s *Selector){
		func(s *Selector) {},
		func(s *Selector) { s.MarkWorkerActive(s.ProbeStarted()) },
		func(s *Selector) { s.MarkUnresponsive() },
	} {
		s := newTestSelector()
		setup(s)
		s.MarkUnavailable()
		if got := s.State(); got != StateWorkerUnavailable {
			t.Fatalf("expected worker_unavailable, got %q", got)
		}
		if !s.PollingArmed() {
			t.Fatalf("poller not armed after exhaustion")
		}
	}
}

func TestFallbackEngagesOnlyFromDegradedStates(t *testing.T) {
	t.Parallel()

	s := newTestSelector()
	s.MarkWorkerActive(s.ProbeStarted())
	s.NoteFallbackEngaged()
	if got := s.State(); got != StateWorkerActive {
		t.Fatalf("fallback engaged from worker_active: %q", got)
	}

	s.MarkUnresponsive()
	s.NoteFallbackEngaged()
	if got := s.State(); got != StateFallbackPolling {
		t.Fatalf("expected fallback_polling, got %q", got)
	}
	if !s.PollingArmed() {
		t.Fatalf("poller disarmed in fallback_polling")
	}
}

func TestStaleProbeAckCannotRetractFallback(t *testing.T) {
	t.Parallel()
	s := newTestSelector()
	s.MarkWorkerActive(s.ProbeStarted())

	// Probe goes out, then the timeout fires and fallback engages before the
	// (late) acknowledgment lands.
	gen := s.ProbeStarted()
	s.MarkUnresponsive()
	s.NoteFallbackEngaged()

	if s.MarkWorkerActive(gen) {
		t.Fatalf("late ack restored the worker channel")
	}
	if got := s.State(); got != StateFallbackPolling {
		t.Fatalf("expected fallback_polling, got %q", got)
	}

	// The next cycle's probe captures the post-engagement generation and may
	// recover normally.
	if !s.MarkWorkerActive(s.ProbeStarted()) {
		t.Fatalf("fresh probe ack refused after fallback")
	}
	if got := s.State(); got != StateWorkerActive {
		t.Fatalf("expected worker_active, got %q", got)
	}
}

func TestResetReturnsToInit(t *testing.T) {
	t.Parallel()
	s := newTestSelector()
	gen := s.ProbeStarted()
	s.MarkUnresponsive()
	s.NoteFallbackEngaged()

	s.Reset()
	if got := s.State(); got != StateInit {
		t.Fatalf("expected init, got %q", got)
	}
	if s.PollingArmed() {
		t.Fatalf("poller armed after reset")
	}
	if s.MarkWorkerActive(gen) {
		t.Fatalf("pre-reset probe ack accepted")
	}
}
