package session

import (
	"context"
	"errors"
	"testing"

	"customeragent/internal/eventbus"
	"customeragent/pkg/logx"
)

func TestConnectRejectsEmptyCredentials(t *testing.T) {
	t.Parallel()
	s := New(nil, logx.Nop())

	if err := s.Connect(context.Background(), Credentials{}); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if err := s.Connect(context.Background(), Credentials{APIURL: "  ", APIKey: "k"}); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials for blank url, got %v", err)
	}
	if s.Connected() {
		t.Fatalf("connected after rejected credentials")
	}
}

func TestConnectVerifiesAndClearsOnFailure(t *testing.T) {
	t.Parallel()
	s := New(nil, logx.Nop())
	s.SetVerifier(func(context.Context) (bool, error) { return false, nil })

	err := s.Connect(context.Background(), Credentials{APIURL: "http://dash.test", APIKey: "bad"})
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if s.Connected() {
		t.Fatalf("connected despite failed verification")
	}
	if _, _, ok := s.Credentials(); ok {
		t.Fatalf("rejected credentials were kept")
	}
}

func TestFailedReconnectKeepsEstablishedSession(t *testing.T) {
	t.Parallel()
	s := New(nil, logx.Nop())
	reject := false
	s.SetVerifier(func(context.Context) (bool, error) { return !reject, nil })

	good := Credentials{APIURL: "http://dash.test", APIKey: "good-key"}
	if err := s.Connect(context.Background(), good); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// A key rotation to rejected credentials must not take the session down
	// or keep the bad key around.
	reject = true
	err := s.Connect(context.Background(), Credentials{APIURL: "http://bad.test", APIKey: "bad-key"})
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if !s.Connected() {
		t.Fatalf("established session dropped by failed reconnect")
	}
	if got, ok := s.Current(); !ok || got != good {
		t.Fatalf("credentials after failed reconnect: %+v ok=%v", got, ok)
	}
}

func TestConnectVerifierSeesProvisionalCredentials(t *testing.T) {
	t.Parallel()
	s := New(nil, logx.Nop())

	var sawURL string
	s.SetVerifier(func(context.Context) (bool, error) {
		sawURL, _, _ = s.Credentials()
		return true, nil
	})

	if err := s.Connect(context.Background(), Credentials{APIURL: "http://dash.test", APIKey: "k"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sawURL != "http://dash.test" {
		t.Fatalf("verifier did not see provisional credentials: %q", sawURL)
	}
	if !s.Connected() {
		t.Fatalf("not connected after successful verify")
	}
}

func TestEpochGuard(t *testing.T) {
	t.Parallel()
	s := New(nil, logx.Nop())
	if err := s.Connect(context.Background(), Credentials{APIURL: "http://dash.test", APIKey: "k"}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	epoch := s.Epoch()
	if !s.Still(epoch) {
		t.Fatalf("fresh epoch already stale")
	}

	s.Disconnect()
	if s.Still(epoch) {
		t.Fatalf("epoch survived disconnect")
	}
	if s.Connected() {
		t.Fatalf("still connected after disconnect")
	}
	if _, _, ok := s.Credentials(); ok {
		t.Fatalf("credentials survived disconnect")
	}

	// Reconnect bumps the epoch again; old captures stay invalid.
	if err := s.Connect(context.Background(), Credentials{APIURL: "http://dash.test", APIKey: "k"}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if s.Still(epoch) {
		t.Fatalf("pre-disconnect epoch valid after reconnect")
	}
}

func TestConnectAndDisconnectPublish(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(bus, logx.Nop())
	if err := s.Connect(context.Background(), Credentials{APIURL: "http://dash.test", APIKey: "k"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	s.Disconnect()
	s.Disconnect() // second disconnect is silent

	var got []string
	for len(events) > 0 {
		got = append(got, (<-events).Type)
	}
	want := []string{eventbus.EventSessionConnected, eventbus.EventSessionDisconnected}
	if len(got) != len(want) {
		t.Fatalf("events: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events: got %v want %v", got, want)
		}
	}
}
