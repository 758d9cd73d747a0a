package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for trendharvest. promauto registers everything
// with the default registry, exposed on the API's /metrics endpoint.
var (
	// --- Job metrics ---

	JobsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trendharvest",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total number of jobs by status",
		},
		[]string{"status"},
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trendharvest",
			Subsystem: "executions",
			Name:      "total",
			Help:      "Total number of job executions by status",
		},
		[]string{"status", "job_type"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trendharvest",
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Duration of job executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"job_name", "status"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trendharvest",
			Subsystem: "executions",
			Name:      "stage_failures_total",
			Help:      "Executions failed by provisioning stage",
		},
		[]string{"stage"},
	)

	// --- Scheduler metrics ---

	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trendharvest",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between scheduled time and actual dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	SchedulerPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trendharvest",
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Total number of scheduler poll cycles",
		},
	)

	JobsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trendharvest",
			Subsystem: "scheduler",
			Name:      "jobs_dispatched_total",
			Help:      "Total number of jobs dispatched",
		},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trendharvest",
			Subsystem: "executions",
			Name:      "retries_total",
			Help:      "Total number of cross-trigger job retries",
		},
		[]string{"job_name"},
	)

	OrphansReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trendharvest",
			Subsystem: "scheduler",
			Name:      "orphans_reaped_total",
			Help:      "Total number of orphaned executions cleaned up",
		},
	)

	// --- Executor metrics ---

	ActiveNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trendharvest",
			Subsystem: "cluster",
			Name:      "active_nodes",
			Help:      "Number of active executor nodes",
		},
	)

	ExecutorJobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trendharvest",
			Subsystem: "executor",
			Name:      "jobs_running",
			Help:      "Number of currently running jobs on this executor",
		},
	)

	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trendharvest",
			Subsystem: "executor",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
	)

	// --- Harvest pipeline metrics ---

	HarvestURLsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trendharvest",
			Subsystem: "harvest",
			Name:      "urls_stored_total",
			Help:      "Citation URLs stored in the hosted database",
		},
	)

	HarvestFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trendharvest",
			Subsystem: "harvest",
			Name:      "fetch_failures_total",
			Help:      "Failed fetches from the upstream AI-query API",
		},
	)

	HarvestStoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trendharvest",
			Subsystem: "harvest",
			Name:      "store_failures_total",
			Help:      "Failed row inserts into the hosted database",
		},
	)
)

// RecordExecution records metrics for a completed execution.
func RecordExecution(jobName, jobType, status string, durationSeconds float64) {
	ExecutionsTotal.WithLabelValues(status, jobType).Inc()
	ExecutionDuration.WithLabelValues(jobName, status).Observe(durationSeconds)
}

// RecordDispatch records a job being dispatched.
func RecordDispatch(lagSeconds float64) {
	JobsDispatched.Inc()
	SchedulerLag.Observe(lagSeconds)
}
