package eventbus

import (
	"time"

	"customeragent/internal/model"
)

// Process-wide event names. Each fires once per occurrence.
const (
	// Worker lifecycle.
	EventWorkerRegistered   = "worker.registered"
	EventWorkerUnavailable  = "worker.unavailable"
	EventWorkerUnresponsive = "worker.unresponsive"
	EventUpdateReady        = "worker.update_ready"

	// Delivery channel selection.
	EventChannelState = "channel.state"

	// Notification pipeline.
	EventNotificationDelivered = "notification.delivered"
	EventNotificationsCleared  = "notifications.cleared"

	// Session / connectivity / platform signals.
	EventSessionConnected    = "session.connected"
	EventSessionDisconnected = "session.disconnected"
	EventNetOnline           = "net.online"
	EventNetOffline          = "net.offline"
	EventPageVisible         = "page.visible"
)

// WorkerEvent accompanies worker lifecycle events.
type WorkerEvent struct {
	Scope    string    `json:"scope,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// ChannelEvent accompanies EventChannelState.
type ChannelEvent struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// DeliveredEvent accompanies EventNotificationDelivered.
type DeliveredEvent struct {
	Notification model.Notification `json:"notification"`
	Channel      string             `json:"channel"` // "worker" or "poll"
	Duplicate    bool               `json:"duplicate"`
	At           time.Time          `json:"at"`
}
