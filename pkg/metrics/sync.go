package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics tracks sync runs and the records they commit.
type SyncMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	records  *prometheus.CounterVec
	batches  *prometheus.CounterVec
}

// NewSyncMetrics registers the sync metrics on reg. A nil registerer yields a
// no-op recorder.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	m := &SyncMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flable_sync_runs_total",
			Help: "Sync runs by terminal outcome.",
		}, []string{labelOutcome}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flable_sync_run_duration_seconds",
			Help:    "Wall clock duration of sync runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{labelOutcome}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flable_sync_records_total",
			Help: "Records processed by resource and kind (created, updated, unchanged, skipped).",
		}, []string{labelResource, labelKind}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flable_sync_batches_total",
			Help: "Committed and failed batches by resource.",
		}, []string{labelResource, labelStatus}),
	}
	reg.MustRegister(m.runs, m.duration, m.records, m.batches)
	return m
}

// ObserveRun records a finished run.
func (m *SyncMetrics) ObserveRun(outcome string, duration time.Duration) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

// AddRecords adds n records of the given kind.
func (m *SyncMetrics) AddRecords(resource, kind string, n int) {
	if m == nil || m.records == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(normalizeLabel(resource), normalizeLabel(kind)).Add(float64(n))
}

// IncBatch counts one batch as committed or failed.
func (m *SyncMetrics) IncBatch(resource string, committed bool) {
	if m == nil || m.batches == nil {
		return
	}
	status := "failed"
	if committed {
		status = "committed"
	}
	m.batches.WithLabelValues(normalizeLabel(resource), status).Inc()
}
