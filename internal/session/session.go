// Package session owns the agent's credentials and connection state.
//
// It is the single source of truth both delivery channels read from: the
// poller reads credentials per call, the background unit receives its own
// copy by message. Changes propagate through the event bus.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"customeragent/internal/eventbus"
	"customeragent/pkg/logx"
)

var (
	ErrNotConnected   = errors.New("session: not connected")
	ErrBadCredentials = errors.New("session: credentials rejected")
)

// Credentials identify the dashboard backend.
type Credentials struct {
	APIURL string
	APIKey string
}

func (c Credentials) valid() bool {
	return strings.TrimSpace(c.APIURL) != "" && strings.TrimSpace(c.APIKey) != ""
}

// Session is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	creds     Credentials
	connected bool

	// epoch increments on every connect/disconnect. In-flight results
	// captured under an older epoch must be discarded, not acted on.
	epoch uint64

	verify func(ctx context.Context) (bool, error)

	bus eventbus.Bus
	log logx.Logger
}

func New(bus eventbus.Bus, log logx.Logger) *Session {
	return &Session{bus: bus, log: log}
}

// SetVerifier installs the connection test used by Connect.
// Installed after construction because the API client reads credentials
// back out of this session.
func (s *Session) SetVerifier(fn func(ctx context.Context) (bool, error)) {
	s.mu.Lock()
	s.verify = fn
	s.mu.Unlock()
}

// Connect stores creds and verifies them against the server. On verification
// failure the previously held credentials are restored and an error is
// returned; an established session stays connected on its old credentials.
func (s *Session) Connect(ctx context.Context, creds Credentials) error {
	if !creds.valid() {
		return ErrBadCredentials
	}

	s.mu.Lock()
	prev := s.creds
	s.creds = creds
	verify := s.verify
	s.mu.Unlock()

	if verify != nil {
		ok, err := verify(ctx)
		if err != nil || !ok {
			s.mu.Lock()
			if s.creds == creds {
				s.creds = prev
			}
			s.mu.Unlock()
			if err != nil {
				return err
			}
			return ErrBadCredentials
		}
	}

	s.mu.Lock()
	wasConnected := s.connected
	s.connected = true
	s.epoch++
	s.mu.Unlock()

	s.log.Info("session connected", logx.String("api_url", creds.APIURL), logx.Bool("reconnect", wasConnected))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventSessionConnected, Time: time.Now()})
	}
	return nil
}

// Disconnect clears credentials and signals every timer-owning component to
// release its resources. In-flight network calls are not canceled; their
// results are discarded by the epoch guard.
func (s *Session) Disconnect() {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.creds = Credentials{}
	s.epoch++
	s.mu.Unlock()

	if !wasConnected {
		return
	}
	s.log.Info("session disconnected")
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventSessionDisconnected, Time: time.Now()})
	}
}

func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Credentials implements api.CredentialSource.
func (s *Session) Credentials() (apiURL, apiKey string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.creds.valid() {
		return "", "", false
	}
	return s.creds.APIURL, s.creds.APIKey, true
}

// Current returns a copy of the stored credentials.
func (s *Session) Current() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, s.creds.valid()
}

// Epoch returns the current connect/disconnect generation.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Still reports whether the session is connected and the epoch has not moved
// since the caller captured it (the "still connected?" guard).
func (s *Session) Still(epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && s.epoch == epoch
}
