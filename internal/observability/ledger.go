package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics instruments the posting engine. A nil receiver records nothing.
type LedgerMetrics struct {
	postings  *prometheus.CounterVec
	retries   prometheus.Counter
	conflicts prometheus.Counter
	duration  prometheus.Histogram
	reversals prometheus.Counter
	version   prometheus.Gauge
}

// NewLedgerMetrics registers the posting collectors.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &LedgerMetrics{
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_postings_total",
			Help: "Journal postings by entry type and outcome.",
		}, []string{"type", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_posting_retries_total",
			Help: "Posting attempts repeated after a concurrency conflict.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_posting_conflicts_total",
			Help: "Postings abandoned after exhausting conflict retries.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_posting_duration_seconds",
			Help:    "Wall time of a posting including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		reversals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_reversals_total",
			Help: "Posted entries reversed.",
		}),
		version: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_gl_version",
			Help: "Last general ledger version seen on the bump channel.",
		}),
	}
	registerer.MustRegister(m.postings, m.retries, m.conflicts, m.duration, m.reversals, m.version)
	return m
}

// ObservePosting records one posting call.
func (m *LedgerMetrics) ObservePosting(entryType string, attempts int, err error, started time.Time) {
	if m == nil {
		return
	}
	if entryType == "" {
		entryType = "unknown"
	}
	outcome := "posted"
	if err != nil {
		outcome = "failed"
	}
	m.postings.WithLabelValues(entryType, outcome).Inc()
	if attempts > 1 {
		m.retries.Add(float64(attempts - 1))
	}
	m.duration.Observe(time.Since(started).Seconds())
}

// IncConflict records a posting that ran out of retries.
func (m *LedgerMetrics) IncConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// IncReversal records a completed reversal.
func (m *LedgerMetrics) IncReversal() {
	if m == nil {
		return
	}
	m.reversals.Inc()
}

// SetGLVersion records the ledger version published after a commit.
func (m *LedgerMetrics) SetGLVersion(version int64) {
	if m == nil {
		return
	}
	m.version.Set(float64(version))
}
