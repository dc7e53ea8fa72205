package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetmon",
			Name:      "events_ingested_total",
			Help:      "Total number of asset events appended to the ledger.",
		},
		[]string{"event_type"},
	)
	EventsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetmon",
			Name:      "events_rejected_total",
			Help:      "Total number of asset events rejected by the ledger.",
		},
		[]string{"reason"},
	)
	SequenceWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetmon",
			Name:      "sequence_warnings_total",
			Help:      "Soft event sequence inconsistencies (clock drift, state mismatch).",
		},
		[]string{"kind"},
	)
	ReportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assetmon",
			Name:      "report_duration_seconds",
			Help:      "Time spent resolving and aggregating shift windows.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"kind"},
	)
	ArchivesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetmon",
			Name:      "archives_created_total",
			Help:      "Total number of shift archives persisted.",
		},
		[]string{"archive_type"},
	)
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetmon",
			Name:      "notifications_sent_total",
			Help:      "Web push notifications by outcome.",
		},
		[]string{"outcome"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetmon",
			Name:      "response_cache_lookups_total",
			Help:      "Cached HTTP response lookups by result.",
		},
		[]string{"result"},
	)

	registerOnce sync.Once
)

// Register adds every collector to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			EventsIngested,
			EventsRejected,
			SequenceWarnings,
			ReportDuration,
			ArchivesCreated,
			NotificationsSent,
			CacheLookups,
		)
	})
}
