package sync

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/shonalidesh/agrilink/pkg/logging"
)

// Listener connects a snapshot source to the reconciler. Snapshots are
// applied one at a time on a single goroutine; when pushes arrive faster
// than they can be applied, intermediate snapshots are dropped in favor of
// the newest, which is safe because every snapshot carries the full
// collection.
type Listener struct {
	source     SnapshotSource
	reconciler *Reconciler
	logger     *logging.Logger

	mu        sync.Mutex
	stopSrc   func()
	cancel    context.CancelFunc
	done      chan struct{}
	snapshots chan []json.RawMessage
}

// NewListener creates a push listener.
func NewListener(source SnapshotSource, reconciler *Reconciler, logger *logging.Logger) *Listener {
	return &Listener{
		source:     source,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Start subscribes to the source and begins applying snapshots. Calling
// Start on a running listener is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopSrc != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	snapshots := make(chan []json.RawMessage, 1)

	stop, err := l.source.Subscribe(ctx, func(items []json.RawMessage) {
		// Latest wins: displace a pending snapshot instead of blocking
		// the source.
		for {
			select {
			case snapshots <- items:
				return
			default:
			}
			select {
			case <-snapshots:
			default:
			}
		}
	})
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case items := <-snapshots:
				l.reconciler.Apply(ctx, items)
			}
		}
	}()

	l.stopSrc = stop
	l.cancel = cancel
	l.done = done
	l.snapshots = snapshots

	l.logger.Info(logging.CategorySync, "listener_started", "", nil)
	return nil
}

// Stop tears down the subscription and waits for the apply loop to drain.
// Stopping an idle listener is a no-op.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopSrc == nil {
		return
	}

	l.stopSrc()
	l.cancel()
	<-l.done

	l.stopSrc = nil
	l.cancel = nil
	l.done = nil
	l.snapshots = nil

	l.logger.Info(logging.CategorySync, "listener_stopped", "", nil)
}
