package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shonalidesh/agrilink/pkg/bus"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/session"
	"github.com/shonalidesh/agrilink/pkg/store"
)

func publishSnapshot(t *testing.T, mb bus.MessageBus, items ...json.RawMessage) {
	t.Helper()
	payload, err := json.Marshal(items)
	require.NoError(t, err)
	require.NoError(t, mb.Publish(context.Background(), bus.SubjectSnapshot, payload))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestListenerAppliesPushedSnapshots(t *testing.T) {
	mb := bus.NewMemoryBus()
	defer mb.Close()

	st := store.New()
	nt := &captureNotifier{}
	viewer := session.Identity{UserID: "e-9", Role: session.RoleExpert}
	logger := logging.NewDiscardLogger()

	l := NewListener(NewBusSource(mb, logger), NewReconciler(viewer, st, nt, logger), logger)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	publishSnapshot(t, mb, newRequestItem(t, "c-1", "PENDING", "Rahima Begum"))
	waitFor(t, func() bool { return st.Len() == 1 })
	assert.Len(t, nt.all(), 1)

	publishSnapshot(t, mb, assignedItem(t, "c-1", "ACCEPTED", "e-9"))
	waitFor(t, func() bool {
		req, ok := st.Get("c-1")
		return ok && req.Status == "IN_PROGRESS"
	})
	assert.Len(t, nt.all(), 1, "status drift must not re-notify")
}

// Requests already waiting on the backend when a console starts arrive in
// the first snapshot over an empty store, so each NEW one is announced.
func TestListenerAnnouncesBacklogOnFirstSnapshot(t *testing.T) {
	mb := bus.NewMemoryBus()
	defer mb.Close()

	st := store.New()
	nt := &captureNotifier{}
	viewer := session.Identity{UserID: "e-9", Role: session.RoleExpert}
	logger := logging.NewDiscardLogger()

	l := NewListener(NewBusSource(mb, logger), NewReconciler(viewer, st, nt, logger), logger)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	publishSnapshot(t, mb,
		newRequestItem(t, "c-1", "PENDING", "Rahima Begum"),
		newRequestItem(t, "c-2", "PENDING", "Abdul Karim"),
		assignedItem(t, "c-3", "ACCEPTED", "e-9"),
	)
	waitFor(t, func() bool { return st.Len() == 3 })
	assert.Len(t, nt.all(), 2, "every NEW request in the login snapshot is announced, assigned ones are not")
}

func TestListenerStopDetachesFromBus(t *testing.T) {
	mb := bus.NewMemoryBus()
	defer mb.Close()

	st := store.New()
	logger := logging.NewDiscardLogger()
	viewer := session.Identity{UserID: "e-9", Role: session.RoleExpert}

	l := NewListener(NewBusSource(mb, logger), NewReconciler(viewer, st, nil, logger), logger)
	require.NoError(t, l.Start(context.Background()))

	publishSnapshot(t, mb, newRequestItem(t, "c-1", "PENDING", "Rahima Begum"))
	waitFor(t, func() bool { return st.Len() == 1 })

	l.Stop()

	publishSnapshot(t, mb, newRequestItem(t, "c-2", "PENDING", "Abdul Karim"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, st.Len(), "stopped listener must not apply snapshots")
}

func TestListenerStartTwiceIsNoop(t *testing.T) {
	mb := bus.NewMemoryBus()
	defer mb.Close()

	logger := logging.NewDiscardLogger()
	viewer := session.Identity{UserID: "e-9", Role: session.RoleExpert}
	l := NewListener(NewBusSource(mb, logger), NewReconciler(viewer, store.New(), nil, logger), logger)

	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Start(context.Background()))
	l.Stop()
	l.Stop()
}

func TestListenerDropsUndecodablePayload(t *testing.T) {
	mb := bus.NewMemoryBus()
	defer mb.Close()

	st := store.New()
	logger := logging.NewDiscardLogger()
	viewer := session.Identity{UserID: "e-9", Role: session.RoleExpert}

	l := NewListener(NewBusSource(mb, logger), NewReconciler(viewer, st, nil, logger), logger)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.NoError(t, mb.Publish(context.Background(), bus.SubjectSnapshot, []byte(`{"not":"an array"}`)))
	publishSnapshot(t, mb, newRequestItem(t, "c-1", "PENDING", "Rahima Begum"))

	waitFor(t, func() bool { return st.Len() == 1 })
}
