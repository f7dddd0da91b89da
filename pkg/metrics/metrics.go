package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Push results
const (
	PushDelivered = "delivered"
	PushTimeout   = "timeout"
	PushClosed    = "closed"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch metrics
	NotificationsAppended *prometheus.CounterVec
	Pushes                *prometheus.CounterVec
	DeliveryMisses        *prometheus.CounterVec
	LiveConnections       prometheus.Gauge

	// Lifecycle metrics
	Transitions *prometheus.CounterVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// New creates all application metrics and registers them on reg.
// Tests pass a fresh prometheus.NewRegistry() so repeated construction never collides.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		NotificationsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_appended_total",
			Help:      "Total number of notifications persisted",
		}, []string{"kind"}),
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_pushes_total",
			Help:      "Total number of pushes to live connections by result",
		}, []string{"result"}),
		DeliveryMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_delivery_misses_total",
			Help:      "Notifications that reached no live connection",
		}, []string{"reason"}),
		LiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Current number of joined transport connections",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_transitions_total",
			Help:      "Service request transitions by name and result",
		}, []string{"transition", "result"}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
