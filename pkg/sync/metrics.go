package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSnapshots = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agrilink",
		Name:      "sync_snapshots_total",
		Help:      "Snapshots received from the push channel.",
	})
	metricSnapshotDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agrilink",
		Name:      "sync_snapshot_decode_failures_total",
		Help:      "Snapshot payloads dropped because the outer array was not valid JSON.",
	})
	metricRequestsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agrilink",
		Name:      "sync_requests_added_total",
		Help:      "Consultation requests added to the local store by reconciliation.",
	})
	metricStatusUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agrilink",
		Name:      "sync_status_updates_total",
		Help:      "Status transitions applied to already-known requests.",
	})
	metricMalformedSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agrilink",
		Name:      "sync_malformed_skipped_total",
		Help:      "Snapshot items skipped because they could not be decoded.",
	})
	metricNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agrilink",
		Name:      "sync_notifications_total",
		Help:      "New-request notifications emitted by reconciliation.",
	})
)
