package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all delivery-engine metrics
type Metrics struct {
	// Record processing
	RecordsSucceeded prometheus.Counter
	RecordsFailed    prometheus.Counter
	RecordsCancelled prometheus.Counter
	RecordsLocked    prometheus.Counter
	RecordsDeleted   prometheus.Counter
	RecordsCreated   *prometheus.CounterVec

	// Check-loop timing
	CheckPassDuration prometheus.Histogram
	AttemptLatency    *prometheus.HistogramVec

	// Outbound HTTP
	DeliveryOutcomes *prometheus.CounterVec
	PayloadSize      prometheus.Histogram

	// Storage
	DatabaseOperations *prometheus.CounterVec
}

// New creates and registers all delivery-engine metrics against the given
// registerer. Tests pass a fresh prometheus.NewRegistry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repeat_records_succeeded_total",
			Help:      "Total number of repeat records delivered successfully",
		}),
		RecordsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repeat_records_failed_total",
			Help:      "Total number of failed delivery attempts",
		}),
		RecordsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repeat_records_cancelled_total",
			Help:      "Total number of repeat records cancelled",
		}),
		RecordsLocked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repeat_records_locked_total",
			Help:      "Due records skipped because another worker held the lock",
		}),
		RecordsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repeat_records_repeater_deleted_total",
			Help:      "Records cancelled because their repeater was deleted",
		}),
		RecordsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repeat_records_created_total",
			Help:      "Repeat records registered by the dispatcher",
		}, []string{"kind"}),
		CheckPassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_pass_duration_seconds",
			Help:      "Duration of one scheduler check pass",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600},
		}),
		AttemptLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Duration of a single delivery attempt",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		DeliveryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_outcomes_total",
			Help:      "Delivery attempt outcomes by classification",
		}, []string{"outcome"}),
		PayloadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payload_size_bytes",
			Help:      "Size of generated payloads",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Database operations by name and result",
		}, []string{"operation", "result"}),
	}
}
