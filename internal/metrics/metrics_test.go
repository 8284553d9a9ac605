package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRequestMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRequestMetrics(reg, "apitree")

	m.ObserveRequest("users.get", "GET", 200, 10*time.Millisecond)
	m.ObserveRequest("users.get", "GET", 200, 20*time.Millisecond)
	m.ObserveRequest("", "POST", 0, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("users.get", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unknown", "POST", "0")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestRequestMetrics_NilSafe(t *testing.T) {
	var m *RequestMetrics
	assert.NotPanics(t, func() { m.ObserveRequest("x", "GET", 200, time.Second) })
	assert.NotPanics(t, func() { NewRequestMetrics(nil, "").ObserveRequest("x", "GET", 200, time.Second) })
}
