// Package metrics exposes Prometheus instrumentation for generated endpoint calls.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics records one observation per dispatched request. It
// satisfies api.Observer. A nil *RequestMetrics is a no-op.
type RequestMetrics struct {
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

// NewRequestMetrics registers the request metrics on the provided registerer.
func NewRequestMetrics(reg prometheus.Registerer, namespace string) *RequestMetrics {
	if reg == nil {
		return &RequestMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Duration of endpoint calls in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint", "method"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Endpoint calls by resulting status (0 for transport failures).",
	}, []string{"endpoint", "method", "status"})
	reg.MustRegister(duration, requests)
	return &RequestMetrics{duration: duration, requests: requests}
}

// ObserveRequest records the status and duration for the named endpoint.
func (m *RequestMetrics) ObserveRequest(endpoint, method string, status int, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	endpoint = normalizeLabel(endpoint)
	m.duration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
	m.requests.WithLabelValues(endpoint, method, strconv.Itoa(status)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
