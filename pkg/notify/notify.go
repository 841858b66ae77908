// Package notify is the user-facing notification surface. Notifications are
// fire-and-forget transient messages; delivery failure never propagates back
// into reconciliation.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shonalidesh/agrilink/pkg/consultation"
)

// Kind defines the type of notification.
type Kind string

const (
	// KindNewRequest is emitted on the first sighting of a NEW request.
	// It is the only kind the reconciler produces.
	KindNewRequest Kind = "new_request"
)

// Notification is a single user-visible transient message.
type Notification struct {
	// ID is the unique notification identifier
	ID string `json:"id"`

	// Kind is the notification kind
	Kind Kind `json:"kind"`

	// Title is a short summary
	Title string `json:"title"`

	// Body is the detailed message
	Body string `json:"body"`

	// RequestID is the consultation request this notification relates to
	RequestID string `json:"request_id,omitempty"`

	// Requester is the display name of the farmer who raised the request
	Requester string `json:"requester,omitempty"`

	// Principal is the user the notification is addressed to
	Principal string `json:"principal,omitempty"`

	// Timestamp is when the notification was created
	Timestamp time.Time `json:"timestamp"`
}

// JSON returns the notification as JSON bytes.
func (n *Notification) JSON() []byte {
	data, _ := json.Marshal(n)
	return data
}

// NewRequest builds the "new request" notification for a first-seen request.
func NewRequest(req consultation.Request) *Notification {
	return &Notification{
		ID:        uuid.NewString(),
		Kind:      KindNewRequest,
		Title:     "New Request from " + req.Requester.Name,
		Body:      req.Category,
		RequestID: req.ID,
		Requester: req.Requester.Name,
		Timestamp: time.Now(),
	}
}

// Notifier delivers notifications to a specific surface.
type Notifier interface {
	// Name returns the notifier name
	Name() string

	// Notify delivers a notification
	Notify(ctx context.Context, n *Notification) error
}

// Multi fans a notification out to several notifiers. Delivery is best
// effort per notifier; one failing surface does not stop the others and the
// caller never sees an error.
type Multi struct {
	notifiers []Notifier
	onError   func(name string, err error)
}

// NewMulti creates a fan-out notifier. onError may be nil.
func NewMulti(onError func(name string, err error), notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, onError: onError}
}

// Name returns the adapter name.
func (m *Multi) Name() string { return "multi" }

// Notify delivers to every registered notifier.
func (m *Multi) Notify(ctx context.Context, n *Notification) error {
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, n); err != nil && m.onError != nil {
			m.onError(notifier.Name(), err)
		}
	}
	return nil
}
