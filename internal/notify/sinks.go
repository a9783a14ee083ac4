package notify

import (
	"customeragent/internal/model"
	"customeragent/pkg/logx"
)

// The dashboard's UI surfaces are external collaborators. The dispatcher
// talks to them through these interfaces; the defaults below log or no-op so
// the core runs headless.

// BadgeSink receives the unread count whenever it changes.
type BadgeSink interface {
	UpdateBadge(unread int)
}

// SoundPlayer plays the alert sound for a notification type.
// Playback failure is always swallowed by the dispatcher.
type SoundPlayer interface {
	Play(t model.NotificationType) error
}

// OSNotifier renders an OS-level notification. Show is only called when
// Permitted reports true; denial degrades silently to badge/list only.
type OSNotifier interface {
	Permitted() bool
	Show(n model.Notification) error
}

type logBadge struct{ log logx.Logger }

func NewLogBadge(log logx.Logger) BadgeSink { return logBadge{log: log} }

func (b logBadge) UpdateBadge(unread int) {
	b.log.Debug("badge updated", logx.Int("unread", unread))
}

type nopSound struct{}

func NopSound() SoundPlayer { return nopSound{} }

func (nopSound) Play(model.NotificationType) error { return nil }

type deniedNotifier struct{}

// DeniedNotifier reports no OS notification permission; the dispatcher
// degrades to badge/list only.
func DeniedNotifier() OSNotifier { return deniedNotifier{} }

func (deniedNotifier) Permitted() bool               { return false }
func (deniedNotifier) Show(model.Notification) error { return nil }
