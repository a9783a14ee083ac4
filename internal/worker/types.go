// Package worker owns the background delivery unit: its runtime, its
// registration lifecycle, and its health checking.
//
// The unit is an independently scheduled goroutine that talks to the
// foreground exclusively over the message bus; it keeps its own credential
// copy and its own API client, so it keeps delivering after the foreground
// goes quiet.
package worker

import (
	"context"
	"errors"

	"customeragent/internal/model"
	"customeragent/internal/msgbus"
)

var ErrUnsupported = errors.New("worker: platform does not support a background unit")

// DeliverFunc routes a fetched notification into the dispatcher pipeline.
type DeliverFunc func(ctx context.Context, n model.Notification, channel string) (id string, inserted bool)

// Handle is a live registration.
type Handle interface {
	// Endpoint is the foreground end of the unit's message bus.
	Endpoint() *msgbus.Endpoint

	// Waiting reports whether an updated unit is parked behind this one.
	Waiting() bool

	// SkipWaiting tells the active unit to step aside for the parked update.
	SkipWaiting() error

	// Terminate stops the unit and detaches both bus ends.
	Terminate()
}

// Runtime installs background units.
type Runtime interface {
	// Supported reports platform capability. False means registration is
	// never attempted (no retries).
	Supported() bool

	Register(ctx context.Context, scope string) (Handle, error)
}

type unsupportedRuntime struct{}

// Unsupported returns a Runtime for platforms that cannot host a background
// unit at all (the delivery core then lives on fallback polling alone).
func Unsupported() Runtime { return unsupportedRuntime{} }

func (unsupportedRuntime) Supported() bool { return false }
func (unsupportedRuntime) Register(context.Context, string) (Handle, error) {
	return nil, ErrUnsupported
}
