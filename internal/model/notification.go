package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NotificationType classifies a server-side event surfaced to the operator.
type NotificationType string

const (
	TypeNewCustomer       NotificationType = "new_customer"
	TypeReturningCustomer NotificationType = "returning_customer"
	TypeOrderConfirmed    NotificationType = "order_confirmed"
	TypeHelpNeeded        NotificationType = "help_needed"
	TypeSystem            NotificationType = "system"
)

// Notification is a single operator-facing event.
//
// ID and Timestamp are immutable once the notification is stored;
// Read is the only mutable field.
type Notification struct {
	// ID is server-issued, or locally generated ("<epoch_ms>-<8 hex chars>")
	// when the server did not supply one.
	ID string `json:"id" db:"id"`

	Type NotificationType `json:"type" db:"type"`

	Title string `json:"title" db:"title"`
	Body  string `json:"body" db:"body"`

	// UserID links the notification to a customer, when known.
	UserID string `json:"userId,omitempty" db:"user_id"`

	// Timestamp is epoch milliseconds.
	Timestamp int64 `json:"timestamp" db:"timestamp"`

	Read bool `json:"read" db:"read"`
}

// NewLocalID builds an identifier for notifications that arrived without one.
func NewLocalID(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(b[:]))
}
