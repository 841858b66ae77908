// Package sync keeps the local consultation store aligned with the server
// through pushed snapshots. Every push carries the full collection; the
// reconciler diffs it against local state rather than trusting deltas.
package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shonalidesh/agrilink/pkg/bus"
	apperrors "github.com/shonalidesh/agrilink/pkg/errors"
	"github.com/shonalidesh/agrilink/pkg/logging"
)

// SnapshotHandler receives the decoded outer array of a snapshot. Items are
// left raw; per-item decoding and skipping is the reconciler's job.
type SnapshotHandler func(items []json.RawMessage)

// SnapshotSource is a push channel delivering full-collection snapshots.
type SnapshotSource interface {
	// Subscribe starts delivery and returns a stop function. Handlers may be
	// invoked from an internal goroutine until stop is called or the context
	// ends.
	Subscribe(ctx context.Context, handler SnapshotHandler) (stop func(), err error)
}

// BusSource delivers snapshots published on the message bus.
type BusSource struct {
	bus    bus.MessageBus
	logger *logging.Logger
}

// NewBusSource creates a bus-backed snapshot source.
func NewBusSource(b bus.MessageBus, logger *logging.Logger) *BusSource {
	return &BusSource{bus: b, logger: logger}
}

// Subscribe listens on the snapshot subject until stopped.
func (s *BusSource) Subscribe(ctx context.Context, handler SnapshotHandler) (func(), error) {
	sub, err := s.bus.Subscribe(ctx, bus.SubjectSnapshot, func(msg *bus.Message) {
		items, ok := decodeSnapshot(msg.Data, s.logger)
		if !ok {
			return
		}
		handler(items)
	})
	if err != nil {
		return nil, err
	}
	return func() { sub.Unsubscribe() }, nil
}

// WebsocketSource delivers snapshots streamed over a websocket. The server
// sends the full collection on connect and again after every change.
type WebsocketSource struct {
	url    string
	logger *logging.Logger

	// redialDelay is the pause before reconnecting after a dropped
	// connection.
	redialDelay time.Duration
}

// NewWebsocketSource creates a websocket-backed snapshot source.
func NewWebsocketSource(url string, logger *logging.Logger) *WebsocketSource {
	return &WebsocketSource{
		url:         url,
		logger:      logger,
		redialDelay: 2 * time.Second,
	}
}

// Subscribe dials the stream and keeps reading until stopped. Dropped
// connections are redialed; a failed initial dial is returned to the caller.
func (s *WebsocketSource) Subscribe(ctx context.Context, handler SnapshotHandler) (func(), error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSnapshotTransport, "dial snapshot stream").
			WithContext("url", s.url).
			WithRetryable(true)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			if conn != nil {
				s.readLoop(ctx, conn, handler)
				conn = nil
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.redialDelay):
			}

			next, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
			if err != nil {
				s.logger.Warn(logging.CategorySync, "ws_redial_failed", err.Error(), nil)
				continue
			}
			conn = next
		}
	}()

	stop := func() {
		cancel()
		<-done
	}
	return stop, nil
}

func (s *WebsocketSource) readLoop(ctx context.Context, conn *websocket.Conn, handler SnapshotHandler) {
	if conn == nil {
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn(logging.CategorySync, "ws_read_failed", err.Error(), nil)
			}
			return
		}

		items, ok := decodeSnapshot(data, s.logger)
		if !ok {
			continue
		}
		handler(items)
	}
}

// decodeSnapshot parses the outer JSON array. A payload that is not an array
// is dropped whole.
func decodeSnapshot(data []byte, logger *logging.Logger) ([]json.RawMessage, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		decodeErr := apperrors.Wrap(err, apperrors.ErrCodeSnapshotDecode, "snapshot payload is not a JSON array")
		metricSnapshotDecodeFailures.Inc()
		logger.Warn(logging.CategorySync, "snapshot_decode_failed", decodeErr.Error(), nil)
		return nil, false
	}
	return items, true
}
