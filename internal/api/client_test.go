package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type staticCreds struct {
	url, key string
	ok       bool
}

func (c staticCreds) Credentials() (string, string, bool) { return c.url, c.key, c.ok }

func TestNoCredentialsShortCircuits(t *testing.T) {
	t.Parallel()
	c := NewClient(staticCreds{}, 0)

	if _, err := c.GetPendingNotifications(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if err := c.MarkNotificationsReceived(context.Background(), []string{"n1"}); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestGetPendingNotifications(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notifications/pending" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		_, _ = w.Write([]byte(`{"notifications":[{"id":"n1","type":"new_customer","title":"t","body":"b","timestamp":123,"read":false}]}`))
	}))
	defer srv.Close()

	c := NewClient(staticCreds{url: srv.URL + "/", key: "secret", ok: true}, 0)
	items, err := c.GetPendingNotifications(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 || items[0].ID != "n1" || items[0].Timestamp != 123 {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestMarkNotificationsReceived(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		got  []string
		hits int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notifications/received" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = body.IDs
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(staticCreds{url: srv.URL, key: "k", ok: true}, 0)
	if err := c.MarkNotificationsReceived(context.Background(), []string{"n1", "n2"}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	// Empty batches never hit the network.
	if err := c.MarkNotificationsReceived(context.Background(), nil); err != nil {
		t.Fatalf("empty ack: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 || len(got) != 2 {
		t.Fatalf("hits=%d ids=%v", hits, got)
	}
}

func TestTestConnection(t *testing.T) {
	t.Parallel()
	status := make(chan int, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(<-status)
	}))
	defer srv.Close()

	c := NewClient(staticCreds{url: srv.URL, key: "k", ok: true}, 0)

	status <- http.StatusOK
	if ok, err := c.TestConnection(context.Background()); err != nil || !ok {
		t.Fatalf("expected (true, nil), got (%v, %v)", ok, err)
	}

	// A rejected key is reachable-but-unauthorized, not an error.
	status <- http.StatusUnauthorized
	if ok, err := c.TestConnection(context.Background()); err != nil || ok {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}

	status <- http.StatusInternalServerError
	if _, err := c.TestConnection(context.Background()); err == nil {
		t.Fatalf("server error swallowed")
	}
}
