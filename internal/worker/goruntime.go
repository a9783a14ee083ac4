package worker

import (
	"context"
	"sync"
	"time"

	"customeragent/internal/api"
	"customeragent/internal/msgbus"
	"customeragent/pkg/logx"
)

// GoRuntime hosts background units as goroutines. At most one unit is active;
// registering again terminates the previous one first.
type GoRuntime struct {
	newClient     func(api.CredentialSource) api.Client
	deliver       DeliverFunc
	checkInterval time.Duration
	log           logx.Logger

	mu     sync.Mutex
	active *goHandle
	staged bool
}

func NewGoRuntime(newClient func(api.CredentialSource) api.Client, deliver DeliverFunc, checkInterval time.Duration, log logx.Logger) *GoRuntime {
	return &GoRuntime{
		newClient:     newClient,
		deliver:       deliver,
		checkInterval: checkInterval,
		log:           log,
	}
}

func (r *GoRuntime) Supported() bool { return true }

// StageUpdate marks that an updated unit is ready to take over. The next
// registration surfaces it through Handle.Waiting.
func (r *GoRuntime) StageUpdate() {
	r.mu.Lock()
	r.staged = true
	r.mu.Unlock()
}

func (r *GoRuntime) Register(ctx context.Context, scope string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.active != nil {
		prev := r.active
		r.active = nil
		r.mu.Unlock()
		prev.Terminate()
		r.mu.Lock()
	}

	fore, back := msgbus.New()
	u := newUnit(back, r.newClient, r.deliver, r.checkInterval, r.log.With(logx.String("scope", scope)))

	uctx, cancel := context.WithCancel(context.Background())
	h := &goHandle{ep: fore, back: back, cancel: cancel, waiting: r.staged}
	r.staged = false
	r.active = h
	r.mu.Unlock()

	go u.run(uctx)
	return h, nil
}

type goHandle struct {
	ep     *msgbus.Endpoint
	back   *msgbus.Endpoint
	cancel context.CancelFunc

	mu         sync.Mutex
	waiting    bool
	terminated bool
}

func (h *goHandle) Endpoint() *msgbus.Endpoint { return h.ep }

func (h *goHandle) Waiting() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waiting
}

func (h *goHandle) SkipWaiting() error {
	h.mu.Lock()
	h.waiting = false
	h.mu.Unlock()
	return h.ep.Send(msgbus.Message{Type: msgbus.TypeSkipWaiting, Payload: msgbus.SkipWaiting{}})
}

func (h *goHandle) Terminate() {
	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return
	}
	h.terminated = true
	h.mu.Unlock()

	h.cancel()
	h.ep.Close()
	h.back.Close()
}
