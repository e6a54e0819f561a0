package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// UpstreamMetrics tracks calls to the external commerce platform.
type UpstreamMetrics struct {
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
	waits    prometheus.Histogram
}

func NewUpstreamMetrics(reg prometheus.Registerer) *UpstreamMetrics {
	if reg == nil {
		return &UpstreamMetrics{}
	}
	m := &UpstreamMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flable_upstream_requests_total",
			Help: "Upstream HTTP requests by resource and status code.",
		}, []string{labelResource, labelStatus}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flable_upstream_retries_total",
			Help: "Upstream retries by resource.",
		}, []string{labelResource}),
		waits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flable_upstream_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the per-connection token bucket.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	reg.MustRegister(m.requests, m.retries, m.waits)
	return m
}

// ObserveRequest counts one response. status 0 means a transport error.
func (m *UpstreamMetrics) ObserveRequest(resource string, status int) {
	if m == nil || m.requests == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(normalizeLabel(resource), label).Inc()
}

func (m *UpstreamMetrics) IncRetry(resource string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(resource)).Inc()
}

func (m *UpstreamMetrics) ObserveWait(seconds float64) {
	if m == nil || m.waits == nil {
		return
	}
	m.waits.Observe(seconds)
}
