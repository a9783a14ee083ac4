// Package msgbus is the typed message channel between the foreground and the
// background delivery unit.
//
// Plain Send is fire-and-forget. Request attaches a correlation ID and blocks
// until the peer replies or the context expires; a reply that arrives after
// the requester gave up is dropped, never delivered late. There is no shared
// memory between the two ends.
package msgbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDetached    = errors.New("msgbus: endpoint detached")
	ErrMailboxFull = errors.New("msgbus: mailbox full")
	ErrNoWaiter    = errors.New("msgbus: no request waiting for this reply")
)

const mailboxSize = 64

// Message is a single envelope. Payload holds one of the types in messages.go.
type Message struct {
	Type          Type
	CorrelationID string
	Time          time.Time
	Payload       any
}

// Endpoint is one end of a two-ended bus. Safe for concurrent use.
type Endpoint struct {
	name string

	mu      sync.Mutex
	peer    *Endpoint
	inbox   chan Message
	pending map[string]chan Message
	closed  bool
}

// New returns the two connected ends of a fresh bus.
func New() (foreground, background *Endpoint) {
	a := &Endpoint{name: "foreground", inbox: make(chan Message, mailboxSize), pending: map[string]chan Message{}}
	b := &Endpoint{name: "background", inbox: make(chan Message, mailboxSize), pending: map[string]chan Message{}}
	a.peer = b
	b.peer = a
	return a, b
}

// Receive returns the endpoint's mailbox. The channel is closed on detach.
func (e *Endpoint) Receive() <-chan Message { return e.inbox }

// Send posts a fire-and-forget message to the peer. If the peer's mailbox is
// full the message is dropped and ErrMailboxFull returned; callers treat this
// as a transient condition, not a failure to escalate.
func (e *Endpoint) Send(msg Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	return e.post(msg)
}

// Request sends msg with a fresh correlation ID and waits for the matching
// reply. On ctx expiry the pending slot is removed, so a late reply is
// silently discarded.
func (e *Endpoint) Request(ctx context.Context, msg Message) (Message, error) {
	msg.CorrelationID = uuid.NewString()
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	replyCh := make(chan Message, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Message{}, ErrDetached
	}
	e.pending[msg.CorrelationID] = replyCh
	e.mu.Unlock()

	cleanup := func() {
		e.mu.Lock()
		delete(e.pending, msg.CorrelationID)
		e.mu.Unlock()
	}

	if err := e.post(msg); err != nil {
		cleanup()
		return Message{}, err
	}

	select {
	case <-ctx.Done():
		cleanup()
		return Message{}, ctx.Err()
	case reply, ok := <-replyCh:
		cleanup()
		if !ok {
			return Message{}, ErrDetached
		}
		return reply, nil
	}
}

// Reply answers a request previously received from the peer. If the requester
// is no longer waiting (timed out, detached) the reply is dropped and
// ErrNoWaiter returned; that is the expected fate of a late acknowledgment.
func (e *Endpoint) Reply(to Message, reply Message) error {
	if to.CorrelationID == "" {
		return ErrNoWaiter
	}
	reply.CorrelationID = to.CorrelationID
	if reply.Time.IsZero() {
		reply.Time = time.Now()
	}

	peer := e.peerEndpoint()
	if peer == nil {
		return ErrDetached
	}

	peer.mu.Lock()
	ch, ok := peer.pending[to.CorrelationID]
	if ok {
		delete(peer.pending, to.CorrelationID)
	}
	closed := peer.closed
	peer.mu.Unlock()

	if closed {
		return ErrDetached
	}
	if !ok {
		return ErrNoWaiter
	}
	ch <- reply // buffered; requester owns exactly one slot
	return nil
}

// Close detaches this end: the mailbox closes and every outstanding request
// issued from this end fails with ErrDetached.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pend := e.pending
	e.pending = map[string]chan Message{}
	close(e.inbox)
	e.mu.Unlock()

	for _, ch := range pend {
		close(ch)
	}
}

func (e *Endpoint) post(msg Message) error {
	peer := e.peerEndpoint()
	if peer == nil {
		return ErrDetached
	}

	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return ErrDetached
	}
	select {
	case peer.inbox <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

func (e *Endpoint) peerEndpoint() *Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	return e.peer
}
