package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EntriesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opscope_entries_accepted_total",
		Help: "Log entries accepted by the level gate",
	}, []string{"level"})

	EntriesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opscope_entries_rejected_total",
		Help: "Log entries rejected by the level gate",
	})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opscope_broadcast_dropped_total",
		Help: "Live events dropped because a subscriber queue was full",
	})

	HistoryLinesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opscope_history_lines_written_total",
		Help: "Log entries persisted to the historical store",
	})

	HistoryLinesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opscope_history_lines_dropped_total",
		Help: "Log entries dropped because the history queue was full",
	})

	AuditEventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opscope_audit_events_recorded_total",
		Help: "Audit events appended, by kind",
	}, []string{"kind"})

	SearchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opscope_search_latency_seconds",
		Help:    "Audit and history search latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"engine"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opscope_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
