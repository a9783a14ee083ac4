package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"customeragent/internal/api"
	"customeragent/internal/msgbus"
	"customeragent/pkg/logx"
)

// defaultCheckInterval is the unit's own fetch cadence while healthy (the
// slower primary interval; the foreground poller runs the fast fallback).
const defaultCheckInterval = 60 * time.Second

// unit is the background delivery unit. It owns a private credential copy
// (fed by StoreCredentials messages) and never touches foreground state.
type unit struct {
	ep      *msgbus.Endpoint
	client  api.Client
	deliver DeliverFunc
	log     logx.Logger

	checkInterval time.Duration

	mu     sync.Mutex
	apiURL string
	apiKey string
	online bool
}

func newUnit(ep *msgbus.Endpoint, newClient func(api.CredentialSource) api.Client, deliver DeliverFunc, checkInterval time.Duration, log logx.Logger) *unit {
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}
	u := &unit{
		ep:            ep,
		deliver:       deliver,
		checkInterval: checkInterval,
		log:           log,
		online:        true,
	}
	u.client = newClient(u)
	return u
}

// Credentials implements api.CredentialSource over the unit's private copy.
func (u *unit) Credentials() (string, string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if strings.TrimSpace(u.apiURL) == "" || strings.TrimSpace(u.apiKey) == "" {
		return "", "", false
	}
	return u.apiURL, u.apiKey, true
}

func (u *unit) authenticated() bool {
	_, _, ok := u.Credentials()
	return ok
}

func (u *unit) run(ctx context.Context) {
	t := time.NewTicker(u.checkInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			u.checkNotifications(ctx)
		case msg, ok := <-u.ep.Receive():
			if !ok {
				return
			}
			if stop := u.handle(ctx, msg); stop {
				return
			}
		}
	}
}

func (u *unit) handle(ctx context.Context, msg msgbus.Message) (stop bool) {
	switch msg.Type {
	case msgbus.TypeStoreCredentials:
		p, ok := msg.Payload.(msgbus.StoreCredentials)
		if !ok {
			return false
		}
		u.mu.Lock()
		u.apiURL = p.APIURL
		u.apiKey = p.APIKey
		u.mu.Unlock()
		u.log.Debug("credentials stored")

	case msgbus.TypePing:
		_ = u.ep.Reply(msg, msgbus.Message{
			Type:    msgbus.TypePong,
			Payload: msgbus.Pong{Authenticated: u.authenticated()},
		})

	case msgbus.TypeCheckNotifications:
		count := u.checkNotifications(ctx)
		_ = u.ep.Reply(msg, msgbus.Message{
			Type:    msgbus.TypeNotificationsChecked,
			Payload: msgbus.NotificationsChecked{Count: count},
		})

	case msgbus.TypeRequestCredentials:
		u.mu.Lock()
		resp := msgbus.RequestCredentialsResponse{APIURL: u.apiURL, APIKey: u.apiKey}
		u.mu.Unlock()
		_ = u.ep.Reply(msg, msgbus.Message{
			Type:    msgbus.TypeRequestCredentialsResponse,
			Payload: resp,
		})

	case msgbus.TypeConnectivityUpdate:
		if p, ok := msg.Payload.(msgbus.ConnectivityUpdate); ok {
			u.mu.Lock()
			u.online = p.Online
			u.mu.Unlock()
		}

	case msgbus.TypeSkipWaiting:
		u.log.Info("skip waiting; unit stepping aside")
		return true
	}
	return false
}

// checkNotifications fetches and dispatches pending events, then
// acknowledges the batch. Failures are logged and absorbed; a missed ack
// just means the same items return next cycle and dedup drops them.
func (u *unit) checkNotifications(ctx context.Context) int {
	u.mu.Lock()
	online := u.online
	u.mu.Unlock()
	if !online || !u.authenticated() {
		return 0
	}

	items, err := u.client.GetPendingNotifications(ctx)
	if err != nil {
		u.log.Debug("background fetch failed", logx.Err(err))
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	ids := make([]string, 0, len(items))
	for _, n := range items {
		id, _ := u.deliver(ctx, n, "worker")
		if n.ID != "" {
			ids = append(ids, id)
		}
	}
	if err := u.client.MarkNotificationsReceived(ctx, ids); err != nil {
		u.log.Debug("background acknowledge failed", logx.Int("batch", len(ids)), logx.Err(err))
	}
	return len(items)
}
