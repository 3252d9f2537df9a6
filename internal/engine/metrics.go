package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examlens_tasks_dispatched_total",
			Help: "Total number of dispatch attempts by outcome.",
		},
		[]string{"mode", "outcome"},
	)

	taskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examlens_task_transitions_total",
			Help: "Total number of task status changes.",
		},
		[]string{"mode", "status"},
	)

	pollErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examlens_poll_errors_total",
			Help: "Total number of transient status query errors.",
		},
		[]string{"backend"},
	)

	pollTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "examlens_poll_tick_seconds",
			Help:    "Duration of one poll tick in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	outstandingTasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "examlens_outstanding_tasks",
			Help: "Number of non-terminal tasks per session.",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(tasksDispatchedTotal)
	prometheus.MustRegister(taskTransitionsTotal)
	prometheus.MustRegister(pollErrorsTotal)
	prometheus.MustRegister(pollTickDuration)
	prometheus.MustRegister(outstandingTasks)
}
