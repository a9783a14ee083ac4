package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"customeragent/internal/api"
	"customeragent/internal/model"
	"customeragent/internal/msgbus"
	"customeragent/pkg/logx"
)

type fakeAPI struct {
	src api.CredentialSource

	mu      sync.Mutex
	pending []model.Notification
	acked   [][]string
}

func (c *fakeAPI) GetPendingNotifications(context.Context) ([]model.Notification, error) {
	if _, _, ok := c.src.Credentials(); !ok {
		return nil, api.ErrNoCredentials
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Notification, len(c.pending))
	copy(out, c.pending)
	return out, nil
}

func (c *fakeAPI) MarkNotificationsReceived(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, ids)
	c.pending = nil
	return nil
}

func (c *fakeAPI) TestConnection(context.Context) (bool, error) {
	if _, _, ok := c.src.Credentials(); !ok {
		return false, api.ErrNoCredentials
	}
	return true, nil
}

type deliverRecorder struct {
	mu    sync.Mutex
	seen  []model.Notification
	chans []string
}

func (r *deliverRecorder) deliver(_ context.Context, n model.Notification, channel string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
	r.chans = append(r.chans, channel)
	return n.ID, true
}

func startTestUnit(t *testing.T, apiHolder **fakeAPI) (*msgbus.Endpoint, chan struct{}) {
	t.Helper()
	fore, back := msgbus.New()
	rec := &deliverRecorder{}
	u := newUnit(back, func(src api.CredentialSource) api.Client {
		c := &fakeAPI{src: src}
		*apiHolder = c
		return c
	}, rec.deliver, time.Hour, logx.Nop())

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		u.run(ctx)
		close(done)
	}()
	return fore, done
}

func request(t *testing.T, ep *msgbus.Endpoint, msg msgbus.Message) msgbus.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := ep.Request(ctx, msg)
	if err != nil {
		t.Fatalf("request %q: %v", msg.Type, err)
	}
	return reply
}

func TestUnitPingReflectsAuthentication(t *testing.T) {
	t.Parallel()
	var apiClient *fakeAPI
	fore, _ := startTestUnit(t, &apiClient)

	reply := request(t, fore, msgbus.Message{Type: msgbus.TypePing, Payload: msgbus.Ping{}})
	if p, ok := reply.Payload.(msgbus.Pong); !ok || p.Authenticated {
		t.Fatalf("expected unauthenticated pong, got %+v", reply.Payload)
	}

	if err := fore.Send(msgbus.Message{
		Type:    msgbus.TypeStoreCredentials,
		Payload: msgbus.StoreCredentials{APIURL: "http://dash.test", APIKey: "k"},
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	reply = request(t, fore, msgbus.Message{Type: msgbus.TypePing, Payload: msgbus.Ping{}})
	if p, ok := reply.Payload.(msgbus.Pong); !ok || !p.Authenticated {
		t.Fatalf("expected authenticated pong, got %+v", reply.Payload)
	}
}

func TestUnitCredentialsEchoedBack(t *testing.T) {
	t.Parallel()
	var apiClient *fakeAPI
	fore, _ := startTestUnit(t, &apiClient)

	_ = fore.Send(msgbus.Message{
		Type:    msgbus.TypeStoreCredentials,
		Payload: msgbus.StoreCredentials{APIURL: "http://dash.test", APIKey: "k"},
	})

	reply := request(t, fore, msgbus.Message{Type: msgbus.TypeRequestCredentials})
	p, ok := reply.Payload.(msgbus.RequestCredentialsResponse)
	if !ok || p.APIURL != "http://dash.test" || p.APIKey != "k" {
		t.Fatalf("unexpected credentials response %+v", reply.Payload)
	}
}

func TestUnitCheckNotificationsFetchesAndAcks(t *testing.T) {
	t.Parallel()
	var apiClient *fakeAPI
	fore, _ := startTestUnit(t, &apiClient)

	_ = fore.Send(msgbus.Message{
		Type:    msgbus.TypeStoreCredentials,
		Payload: msgbus.StoreCredentials{APIURL: "http://dash.test", APIKey: "k"},
	})
	// Unauthenticated or offline checks return zero without fetching; after
	// credentials the batch flows through.
	apiClient.mu.Lock()
	apiClient.pending = []model.Notification{{ID: "n1"}, {ID: "n2"}}
	apiClient.mu.Unlock()

	reply := request(t, fore, msgbus.Message{Type: msgbus.TypeCheckNotifications})
	p, ok := reply.Payload.(msgbus.NotificationsChecked)
	if !ok || p.Count != 2 {
		t.Fatalf("unexpected check result %+v", reply.Payload)
	}

	apiClient.mu.Lock()
	defer apiClient.mu.Unlock()
	if len(apiClient.acked) != 1 || len(apiClient.acked[0]) != 2 {
		t.Fatalf("unexpected acks: %v", apiClient.acked)
	}
}

func TestUnitCheckSkippedWhileOffline(t *testing.T) {
	t.Parallel()
	var apiClient *fakeAPI
	fore, _ := startTestUnit(t, &apiClient)

	_ = fore.Send(msgbus.Message{
		Type:    msgbus.TypeStoreCredentials,
		Payload: msgbus.StoreCredentials{APIURL: "http://dash.test", APIKey: "k"},
	})
	_ = fore.Send(msgbus.Message{
		Type:    msgbus.TypeConnectivityUpdate,
		Payload: msgbus.ConnectivityUpdate{Online: false},
	})
	apiClient.mu.Lock()
	apiClient.pending = []model.Notification{{ID: "n1"}}
	apiClient.mu.Unlock()

	reply := request(t, fore, msgbus.Message{Type: msgbus.TypeCheckNotifications})
	if p, ok := reply.Payload.(msgbus.NotificationsChecked); !ok || p.Count != 0 {
		t.Fatalf("offline check still fetched: %+v", reply.Payload)
	}
}

func TestUnitStopsOnSkipWaiting(t *testing.T) {
	t.Parallel()
	var apiClient *fakeAPI
	fore, done := startTestUnit(t, &apiClient)

	_ = fore.Send(msgbus.Message{Type: msgbus.TypeSkipWaiting, Payload: msgbus.SkipWaiting{}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("unit kept running after skip waiting")
	}
}
