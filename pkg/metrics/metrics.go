package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lock manager metrics (C2)
	LocksActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oms_locks_active",
			Help: "Currently held locks by scope and type",
		},
		[]string{"scope", "type"},
	)

	LockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_lock_acquisitions_total",
			Help: "Total lock acquisition attempts by outcome",
		},
		[]string{"scope", "outcome"},
	)

	LockExpirationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_lock_expirations_total",
			Help: "Total locks released by the sweepers, by reason",
		},
		[]string{"reason"},
	)

	LockHoldDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oms_lock_hold_duration_seconds",
			Help:    "Time a lock was held before release",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope", "type"},
	)

	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "oms_raft_is_leader",
			Help: "Whether this replica is the Raft leader for the lock manager (1 = leader, 0 = follower)",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oms_raft_apply_duration_seconds",
			Help:    "Time taken to apply a lock-manager Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Schema-freeze gate metrics (C4)
	FreezeRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_freeze_rejections_total",
			Help: "Total writes rejected with a 423 Locked payload, by resource type",
		},
		[]string{"resource_type"},
	)

	// Outbox metrics (C3)
	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "oms_outbox_pending",
			Help: "Outbox rows currently pending or eligible for retry",
		},
	)

	OutboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_outbox_published_total",
			Help: "Total events dispatched, by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	OutboxDLQTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "oms_outbox_dlq_total",
			Help: "Total events moved to the dead-letter store after exhausting retries",
		},
	)

	OutboxDispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oms_outbox_dispatch_duration_seconds",
			Help:    "Time to dispatch one outbox batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Shadow index metrics (C5)
	ShadowBuildsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oms_shadow_builds_active",
			Help: "Non-terminal shadow index builds by state",
		},
		[]string{"state"},
	)

	ShadowSwitchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oms_shadow_switch_duration_seconds",
			Help:    "Duration of the atomic index switch window",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)

	ShadowSwitchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_shadow_switch_total",
			Help: "Total atomic switch attempts by outcome",
		},
		[]string{"outcome"},
	)

	IndexerCircuitState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "oms_indexer_circuit_state",
			Help: "Indexer RPC circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Merge engine metrics (C6)
	MergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oms_merge_duration_seconds",
			Help:    "Time taken to merge one changeset",
			Buckets: prometheus.DefBuckets,
		},
	)

	MergeConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_merge_conflicts_total",
			Help: "Total conflicts classified, by severity",
		},
		[]string{"severity"},
	)

	CompactionNodesCollapsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "oms_compaction_nodes_collapsed_total",
			Help: "Total commit-DAG nodes collapsed by compaction",
		},
	)

	// Audit metrics (C7)
	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_audit_events_total",
			Help: "Total audit events recorded, by action and success",
		},
		[]string{"action", "success"},
	)

	// Identity metrics (C8)
	AuthTokenCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_auth_token_cache_total",
			Help: "Token validation results, by cache outcome",
		},
		[]string{"outcome"},
	)

	AuthDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_auth_denied_total",
			Help: "Total requests denied by the capability matrix, by reason",
		},
		[]string{"reason"},
	)

	// API metrics (pkg/api)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_http_requests_total",
			Help: "Total HTTP requests handled, by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oms_http_request_duration_seconds",
			Help:    "HTTP request latency, by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		LocksActive,
		LockAcquisitionsTotal,
		LockExpirationsTotal,
		LockHoldDuration,
		RaftLeader,
		RaftApplyDuration,
		FreezeRejectionsTotal,
		OutboxPending,
		OutboxPublishedTotal,
		OutboxDLQTotal,
		OutboxDispatchDuration,
		ShadowBuildsActive,
		ShadowSwitchDuration,
		ShadowSwitchTotal,
		IndexerCircuitState,
		MergeDuration,
		MergeConflictsTotal,
		CompactionNodesCollapsed,
		AuditEventsTotal,
		AuthTokenCacheHitsTotal,
		AuthDeniedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
