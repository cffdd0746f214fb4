package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations counts record store operations by backend, operation and result.
	StoreOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postboard_store_operations_total",
		Help: "Total number of record store operations",
	}, []string{"backend", "operation", "result"})

	// StoreLatency records record store operation latency.
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postboard_store_operation_seconds",
		Help:    "Record store operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation"})

	// StoreRecoveries counts containers reinitialized after a malformed read.
	StoreRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postboard_store_recoveries_total",
		Help: "Total number of corrupted containers reinitialized to empty state",
	})

	// AuthEvents counts authentication outcomes by event type.
	AuthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postboard_auth_events_total",
		Help: "Authentication events by type and result",
	}, []string{"event", "result"})

	// CacheRequests counts feed cache lookups by result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postboard_cache_requests_total",
		Help: "Feed cache lookups by result",
	}, []string{"result"})

	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postboard_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})
)

// StoreMetrics records latency and outcome for one store backend.
type StoreMetrics struct {
	backend string
}

// NewStoreMetrics returns a StoreMetrics labelled with backend.
func NewStoreMetrics(backend string) *StoreMetrics {
	return &StoreMetrics{backend: backend}
}

// Track returns a function that records the operation when called (e.g. defer).
func (m *StoreMetrics) Track(operation string) func(err error) {
	start := time.Now()
	return func(err error) {
		StoreLatency.WithLabelValues(m.backend, operation).Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
		}
		StoreOperations.WithLabelValues(m.backend, operation, result).Inc()
	}
}

// RecordAuth increments the auth counter for event and result.
func RecordAuth(event, result string) {
	AuthEvents.WithLabelValues(event, result).Inc()
}
