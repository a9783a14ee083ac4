package msgbus

import "customeragent/internal/model"

// Type names the logical message protocol between the foreground and the
// background unit.
type Type string

const (
	TypeStoreCredentials           Type = "store_credentials"
	TypePing                       Type = "ping"
	TypePong                       Type = "pong"
	TypeCheckNotifications         Type = "check_notifications"
	TypeNotificationsChecked       Type = "notifications_checked"
	TypeRequestCredentials         Type = "request_credentials"
	TypeRequestCredentialsResponse Type = "request_credentials_response"
	TypeNotificationClick          Type = "notification_click"
	TypeConnectivityUpdate         Type = "connectivity_update"
	TypeSkipWaiting                Type = "skip_waiting"
)

// StoreCredentials pushes the current endpoint+key to the background unit.
// Re-sent on every (re)registration and on every reconnect.
type StoreCredentials struct {
	APIURL    string `json:"apiUrl"`
	APIKey    string `json:"apiKey"`
	Timestamp int64  `json:"timestamp"`
}

// Ping is the liveness probe; the unit answers with Pong.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Authenticated bool `json:"authenticated"`
}

// CheckNotifications asks the unit to fetch and dispatch pending events now.
type CheckNotifications struct{}

type NotificationsChecked struct {
	Count int `json:"count"`
}

type RequestCredentials struct{}

type RequestCredentialsResponse struct {
	APIURL string `json:"apiUrl"`
	APIKey string `json:"apiKey"`
}

// NotificationClick reports that the operator activated an OS-level
// notification rendered by the background unit.
type NotificationClick struct {
	Notification model.Notification `json:"notification"`
}

type ConnectivityUpdate struct {
	Online    bool  `json:"online"`
	Timestamp int64 `json:"timestamp"`
}

type SkipWaiting struct{}
