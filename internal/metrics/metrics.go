package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
		[]string{"priority"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"status"}, // COMPLETED, FAILED, STOPPED
	)

	JobsRequeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_jobs_requeued_total",
			Help: "Total number of jobs returned to the queue (deferral, no worker, failed assignment)",
		},
	)

	JobsReassignedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_jobs_reassigned_total",
			Help: "Total number of jobs pulled off offline workers",
		},
	)

	LoadCorrectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_load_corrections_total",
			Help: "Total number of worker load drift corrections",
		},
	)

	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_queue_length",
			Help: "Current number of queued jobs per priority tier",
		},
		[]string{"priority"},
	)

	WorkersAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_workers_available",
			Help: "Workers currently passing the availability predicate",
		},
	)

	RunningJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_running_jobs",
			Help: "Jobs currently executing",
		},
	)

	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchd_job_duration_seconds",
			Help:    "Wall-clock job execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"priority", "status"},
	)
)
