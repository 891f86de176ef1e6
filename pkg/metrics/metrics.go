package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task and job metrics
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcm_tasks_total",
			Help: "Total number of finished tasks by final status",
		},
		[]string{"status"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcm_jobs_total",
			Help: "Total number of finished jobs by final status",
		},
		[]string{"status"},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adcm_task_duration_seconds",
			Help:    "Wall time of tasks from start to finish in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adcm_tasks_running",
			Help: "Number of tasks supervised by this process",
		},
	)

	// Event metrics
	EventsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcm_events_sent_total",
			Help: "Total number of events delivered to the status server",
		},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcm_events_dropped_total",
			Help: "Total number of events discarded after failed delivery",
		},
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adcm_outbox_pending",
			Help: "Number of committed events waiting for delivery",
		},
	)

	// Inventory metrics
	ObjectsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adcm_objects_total",
			Help: "Number of entities by type",
		},
		[]string{"type"},
	)

	ConcernsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adcm_concerns_total",
			Help: "Number of concern items by type",
		},
		[]string{"type"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adcm_reconciliation_duration_seconds",
			Help:    "Time taken by one stale task sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcm_reconciliation_cycles_total",
			Help: "Total number of stale task sweeps",
		},
	)

	StaleTasksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcm_stale_tasks_total",
			Help: "Total number of running tasks failed because their runner was gone",
		},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(TasksRunning)
	prometheus.MustRegister(EventsSent)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(OutboxPending)
	prometheus.MustRegister(ObjectsTotal)
	prometheus.MustRegister(ConcernsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(StaleTasksTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
