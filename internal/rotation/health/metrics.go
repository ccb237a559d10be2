package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	probeDuration *prometheus.HistogramVec
	probeResults  *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers the health-check Prometheus metrics. Safe to call
// more than once; only the first call registers anything.
func InitMetrics() {
	metricsOnce.Do(func() {
		probeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rotatord_health_probe_duration_seconds",
			Help:    "Duration of rotation health check probes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"protocol"})

		probeResults = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rotatord_health_probe_results_total",
			Help: "Count of rotation health probe results by protocol and status.",
		}, []string{"protocol", "status"})

		metricsRegistered = true
	})
}

// recordProbeResult is safe to call even if InitMetrics was never invoked.
func recordProbeResult(protocol ProtocolType, status HealthStatus, duration time.Duration) {
	if !metricsRegistered {
		return
	}
	probeDuration.WithLabelValues(string(protocol)).Observe(duration.Seconds())
	probeResults.WithLabelValues(string(protocol), status.String()).Inc()
}
