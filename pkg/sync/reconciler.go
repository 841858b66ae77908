package sync

import (
	"context"
	"encoding/json"

	"github.com/shonalidesh/agrilink/pkg/consultation"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/notify"
	"github.com/shonalidesh/agrilink/pkg/session"
	"github.com/shonalidesh/agrilink/pkg/store"
)

// Reconciler diffs pushed snapshots against the local store. It only adds
// entries and updates statuses; a request absent from a snapshot stays in
// the store, so a momentarily short snapshot cannot wipe local state.
type Reconciler struct {
	viewer   session.Identity
	store    *store.Store
	notifier notify.Notifier
	logger   *logging.Logger
}

// NewReconciler creates a reconciler for the given viewer.
func NewReconciler(viewer session.Identity, st *store.Store, notifier notify.Notifier, logger *logging.Logger) *Reconciler {
	return &Reconciler{
		viewer:   viewer,
		store:    st,
		notifier: notifier,
		logger:   logger,
	}
}

// visible reports whether the viewer should see the request. Experts see
// every unclaimed NEW request plus their own assignments; farmers see their
// own requests; operators see everything.
func (r *Reconciler) visible(req consultation.Request) bool {
	switch r.viewer.Role {
	case session.RoleExpert:
		return req.Status == consultation.StatusNew || req.AssignedExpertID == r.viewer.UserID
	case session.RoleFarmer:
		return req.Requester.ID == r.viewer.UserID
	case session.RoleOperator:
		return true
	default:
		return false
	}
}

// Apply reconciles one snapshot. Malformed items are skipped and counted;
// the rest of the snapshot still applies.
func (r *Reconciler) Apply(ctx context.Context, items []json.RawMessage) {
	metricSnapshots.Inc()

	var added, updated, skipped int
	for _, raw := range items {
		req, err := consultation.Decode(raw)
		if err != nil {
			skipped++
			metricMalformedSkipped.Inc()
			r.logger.Warn(logging.CategorySync, "item_skipped", err.Error(), nil)
			continue
		}

		if !r.visible(req) {
			continue
		}

		existing, exists := r.store.Get(req.ID)
		switch {
		case !exists && req.Status == consultation.StatusNew:
			// First sighting of an open request: this is the one case
			// that surfaces a notification.
			r.store.Dispatch(store.Upsert{Request: req})
			added++
			metricRequestsAdded.Inc()
			r.announce(ctx, req)

		case !exists:
			r.store.Dispatch(store.Upsert{Request: req})
			added++
			metricRequestsAdded.Inc()

		case existing.Status != req.Status:
			r.store.Dispatch(store.UpdateStatus{ID: req.ID, Status: req.Status})
			updated++
			metricStatusUpdates.Inc()
		}
	}

	r.logger.Debug(logging.CategorySync, "snapshot_applied", "", map[string]any{
		"items":   len(items),
		"added":   added,
		"updated": updated,
		"skipped": skipped,
	})
}

// announce emits the new-request notification. Delivery failure is logged,
// never propagated; a broken surface must not stall reconciliation.
func (r *Reconciler) announce(ctx context.Context, req consultation.Request) {
	if r.notifier == nil {
		return
	}

	n := notify.NewRequest(req)
	n.Principal = r.viewer.String()
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.logger.Warn(logging.CategoryNotify, "notify_failed", err.Error(), map[string]any{
			"request_id": req.ID,
		})
		return
	}
	metricNotifications.Inc()
}
