package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"customeragent/internal/api"
	"customeragent/internal/msgbus"
	"customeragent/pkg/logx"
)

func newTestGoRuntime() *GoRuntime {
	newClient := func(src api.CredentialSource) api.Client { return &fakeAPI{src: src} }
	rec := &deliverRecorder{}
	return NewGoRuntime(newClient, rec.deliver, time.Hour, logx.Nop())
}

func TestGoRuntimeRegisterAndProbe(t *testing.T) {
	t.Parallel()
	rt := newTestGoRuntime()

	h, err := rt.Register(context.Background(), "/")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer h.Terminate()

	reply := request(t, h.Endpoint(), msgbus.Message{Type: msgbus.TypePing, Payload: msgbus.Ping{}})
	if reply.Type != msgbus.TypePong {
		t.Fatalf("unexpected reply %q", reply.Type)
	}
}

func TestGoRuntimeReplacesActiveUnit(t *testing.T) {
	t.Parallel()
	rt := newTestGoRuntime()

	first, err := rt.Register(context.Background(), "/")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := rt.Register(context.Background(), "/")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	defer second.Terminate()

	if err := first.Endpoint().Send(msgbus.Message{Type: msgbus.TypePing}); !errors.Is(err, msgbus.ErrDetached) {
		t.Fatalf("first unit still attached: %v", err)
	}
	reply := request(t, second.Endpoint(), msgbus.Message{Type: msgbus.TypePing, Payload: msgbus.Ping{}})
	if reply.Type != msgbus.TypePong {
		t.Fatalf("second unit not serving: %q", reply.Type)
	}
}

func TestStagedUpdateSurfacesThroughWaiting(t *testing.T) {
	t.Parallel()
	rt := newTestGoRuntime()

	h, err := rt.Register(context.Background(), "/")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer h.Terminate()
	if h.Waiting() {
		t.Fatalf("fresh registration reports a waiting update")
	}

	rt.StageUpdate()
	updated, err := rt.Register(context.Background(), "/")
	if err != nil {
		t.Fatalf("register with staged update: %v", err)
	}
	defer updated.Terminate()
	if !updated.Waiting() {
		t.Fatalf("staged update not surfaced")
	}

	if err := updated.SkipWaiting(); err != nil {
		t.Fatalf("skip waiting: %v", err)
	}
	if updated.Waiting() {
		t.Fatalf("Waiting still true after SkipWaiting")
	}

	// The unit steps aside: a later probe gets no answer.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := updated.Endpoint().Request(ctx, msgbus.Message{Type: msgbus.TypePing, Payload: msgbus.Ping{}}); err == nil {
		t.Fatalf("unit still answering after stepping aside")
	}
}
