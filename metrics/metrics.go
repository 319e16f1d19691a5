package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PolicyEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_policy_evaluations_total",
			Help: "Total number of policy evaluations",
		},
		[]string{"result"},
	)

	ViolationsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_violations_detected_total",
			Help: "Total number of rule violations detected",
		},
		[]string{"rule_kind"},
	)

	ThreatsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_threats_detected_total",
			Help: "Total number of threats detected",
		},
		[]string{"detector", "severity"},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_incidents_created_total",
			Help: "Total number of incidents created",
		},
		[]string{"severity", "category"},
	)

	IncidentEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_incident_escalations_total",
			Help: "Total number of incident escalations fired",
		},
	)

	ActionExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_action_executions_total",
			Help: "Total number of response actions executed",
		},
		[]string{"type", "status"},
	)

	EnforcementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_enforcement_duration_seconds",
			Help:    "Time taken by a single Enforce call",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_sweep_duration_seconds",
			Help:    "Time taken by periodic sweeps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	SweepUnitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_sweep_unit_failures_total",
			Help: "Per-unit failures isolated inside sweeps",
		},
		[]string{"sweep"},
	)

	CounterStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_counter_store_errors_total",
			Help: "Rolling counter store errors",
		},
		[]string{"op"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_cache_hits_total",
			Help: "Cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_cache_misses_total",
			Help: "Cache misses",
		},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_errors_total",
			Help: "Cache errors",
		},
		[]string{"op"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_notifications_sent_total",
			Help: "Notifications dispatched, by channel",
		},
		[]string{"channel"},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_active_workers",
			Help: "Active workers per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_queue_size",
			Help: "Queued tasks per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_worker_pool_tasks_processed_total",
			Help: "Tasks processed per pool",
		},
		[]string{"pool"},
	)
)
