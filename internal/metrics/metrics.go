// Package metrics registers the prometheus counters/gauges this service
// exposes, grounded on harpoon-scheduler/instrumentation.go: one
// process-wide set of collectors, incremented by the components that own
// the events they describe.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TasksScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mantis",
		Subsystem: "scheduler",
		Name:      "tasks_scheduled_total",
		Help:      "Number of tasks scheduled, by operation type.",
	}, []string{"operation"})

	TasksFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mantis",
		Subsystem: "scheduler",
		Name:      "tasks_finished_total",
		Help:      "Number of tasks that reached a terminal status, by status.",
	}, []string{"status"})

	TasksCleaned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mantis",
		Subsystem: "cleaner",
		Name:      "tasks_removed_total",
		Help:      "Number of finished tasks removed by cleaning (cleaner loop and POST /tasks/clean).",
	})

	SynchronizerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mantis",
		Subsystem: "synchronizer",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one synchronizer reconciliation tick.",
		Buckets:   prometheus.DefBuckets,
	})

	SynchronizerTasksAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mantis",
		Subsystem: "synchronizer",
		Name:      "tasks_added_total",
		Help:      "Number of stream tasks scheduled by the synchronizer.",
	})

	SynchronizerTasksCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mantis",
		Subsystem: "synchronizer",
		Name:      "tasks_cancelled_total",
		Help:      "Number of stream tasks cancelled by the synchronizer (invalid or extra).",
	})

	StreamReservationAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mantis",
		Subsystem: "stream",
		Name:      "reservation_attempts_total",
		Help:      "Number of reservation attempts made against the stream reserver, including 409 retries.",
	})
)

// MustRegister installs every collector into the default registry. Call
// once at startup.
func MustRegister() {
	prometheus.MustRegister(
		TasksScheduled,
		TasksFinished,
		TasksCleaned,
		SynchronizerTickDuration,
		SynchronizerTasksAdded,
		SynchronizerTasksCancelled,
		StreamReservationAttempts,
	)
}
