package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "constructlink"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow actions by transition and outcome.",
		},
		[]string{"transition", "outcome"},
	)

	transitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transition_duration_seconds",
			Help:      "Time spent applying a workflow action, including the lock wait.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"transition"},
	)

	overdueBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "overdue_batches",
			Help:      "Overdue batches seen by the last scan.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, transitionDuration, overdueBatches, notifications)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveTransition records the outcome of one workflow action.
func ObserveTransition(transition, outcome string, took time.Duration) {
	transitions.WithLabelValues(transition, outcome).Inc()
	transitionDuration.WithLabelValues(transition).Observe(took.Seconds())
}

func SetOverdueBatches(n int) {
	overdueBatches.Set(float64(n))
}

func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}
