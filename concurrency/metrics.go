package concurrency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	slotsAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_upload_slots_acquired_total",
		Help: "Number of upload slots handed out",
	})

	slotsDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_upload_slots_denied_total",
		Help: "Number of slot acquisitions refused at the concurrency ceiling",
	})

	slotsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_upload_slots_released_total",
		Help: "Number of upload slots given back",
	})

	slotHeartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_upload_slot_heartbeats_total",
		Help: "Slot ttl refreshes from upload heartbeats",
	})

	activeUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kontor_upload_active_users",
		Help: "Users holding at least one upload slot, as of the last full scan",
	})

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kontor_slot_sweeper_runs_total",
			Help: "Maintenance sweeps grouped by how they stopped",
		},
		[]string{"stop_reason"},
	)

	sweepRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_slot_sweeper_removed_total",
		Help: "Stale users pruned from the active set",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kontor_slot_sweeper_duration_seconds",
		Help:    "Wall time of maintenance sweeps in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
