// Package api talks to the dashboard backend.
//
// The delivery core never surfaces these errors to the operator; callers log
// and retry on their own schedule.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"customeragent/internal/model"
)

var (
	ErrNoCredentials = errors.New("api: no credentials")
	ErrUnauthorized  = errors.New("api: unauthorized")
)

// CredentialSource supplies the current endpoint and key.
// The session owns credentials; the client reads them per call so a
// reconnect never requires rebuilding the client.
type CredentialSource interface {
	Credentials() (apiURL, apiKey string, ok bool)
}

// Client is the server API consumed by both delivery channels.
type Client interface {
	// GetPendingNotifications fetches events queued for this device.
	GetPendingNotifications(ctx context.Context) ([]model.Notification, error)

	// MarkNotificationsReceived acknowledges a batch of IDs. The server
	// tolerates duplicate acknowledgment; callers tolerate ack failure
	// (the same notifications simply come back on the next fetch).
	MarkNotificationsReceived(ctx context.Context, ids []string) error

	// TestConnection reports whether the endpoint accepts our key.
	TestConnection(ctx context.Context) (bool, error)
}

type httpClient struct {
	creds   CredentialSource
	hc      *http.Client
	timeout time.Duration
}

// NewClient builds an HTTP-backed Client. timeout bounds a single call;
// zero means 10s.
func NewClient(creds CredentialSource, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpClient{
		creds:   creds,
		hc:      &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type pendingResponse struct {
	Notifications []model.Notification `json:"notifications"`
}

func (c *httpClient) GetPendingNotifications(ctx context.Context) ([]model.Notification, error) {
	var out pendingResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications/pending", nil, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

func (c *httpClient) MarkNotificationsReceived(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	return c.do(ctx, http.MethodPost, "/api/notifications/received", body, nil)
}

func (c *httpClient) TestConnection(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/api/ping", nil, nil)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, in, out any) error {
	apiURL, apiKey, ok := c.creds.Credentials()
	if !ok {
		return ErrNoCredentials
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(apiURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("api: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("api: decode response: %w", err)
		}
	}
	return nil
}
