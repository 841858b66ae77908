package notify

import (
	"context"

	"github.com/shonalidesh/agrilink/pkg/bus"
	apperrors "github.com/shonalidesh/agrilink/pkg/errors"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/session"
)

// LogNotifier writes notifications to the structured log. It is the default
// surface for headless console runs.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Name returns the adapter name.
func (l *LogNotifier) Name() string { return "log" }

// Notify writes the notification as an info event.
func (l *LogNotifier) Notify(ctx context.Context, n *Notification) error {
	return l.logger.Log(logging.Event{
		Level:     logging.LevelInfo,
		Category:  logging.CategoryNotify,
		EventType: string(n.Kind),
		RequestID: n.RequestID,
		Message:   n.Title,
		Details: map[string]any{
			"notification_id": n.ID,
			"requester":       n.Requester,
		},
	})
}

// BusNotifier publishes notifications to the message bus so other processes
// (a web gateway, a desktop tray) can surface them.
type BusNotifier struct {
	bus     bus.MessageBus
	subject string
}

// NewBusNotifier creates a bus-backed notifier scoped to the given role.
func NewBusNotifier(b bus.MessageBus, role session.Role) *BusNotifier {
	return &BusNotifier{
		bus:     b,
		subject: bus.SubjectNotifyPrefix + string(role),
	}
}

// Name returns the adapter name.
func (b *BusNotifier) Name() string { return "bus" }

// Notify publishes the notification JSON.
func (b *BusNotifier) Notify(ctx context.Context, n *Notification) error {
	if err := b.bus.Publish(ctx, b.subject, n.JSON()); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeNotifyDeliver, "publish notification").
			WithContext("subject", b.subject)
	}
	return nil
}
