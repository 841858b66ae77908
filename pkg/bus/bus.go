// Package bus provides the message bus the snapshot channel rides on.
// The default implementation uses NATS, with an in-memory option for testing.
package bus

import (
	"context"
	"errors"
	"time"
)

// Well-known subjects.
const (
	// SubjectSnapshot carries the full consultation collection, published
	// after every server-side change. Payload is a JSON array; never a diff.
	SubjectSnapshot = "agrilink.consultations.snapshot"

	// SubjectNotifyPrefix is the per-role notification subject prefix, e.g.
	// "agrilink.notify.expert".
	SubjectNotifyPrefix = "agrilink.notify."
)

var (
	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is the pub/sub interface the snapshot channel and notification
// surface are built on. Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Supports wildcards: "agrilink.notify.*" matches "agrilink.notify.expert".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Ignored for in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the connect timeout.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "agrilink",
		Timeout: 30 * time.Second,
	}
}
