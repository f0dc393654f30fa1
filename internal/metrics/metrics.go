// Package metrics holds the Prometheus collectors for the redaction engine
// and batch jobs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "redactor"

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	Values        *prometheus.CounterVec
	TierFailures  *prometheus.CounterVec
	Tokens        prometheus.Counter
	RewritePasses prometheus.Histogram
	RemoteLatency prometheus.Histogram
	CacheRequests *prometheus.CounterVec
	Jobs          *prometheus.CounterVec
}

// New registers the collectors on reg. Passing prometheus.DefaultRegisterer
// exposes them on the global /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Values: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "values_total",
			Help:      "Text values processed, by the path that produced the result",
		}, []string{"path"}),

		TierFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_failures_total",
			Help:      "Tier failures recovered by falling back, by tier and error kind",
		}, []string{"tier", "kind"}),

		Tokens: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Redaction changes applied across all values",
		}),

		RewritePasses: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rewrite_passes",
			Help:      "Rewriter passes used per value",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),

		RemoteLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_latency_seconds",
			Help:      "Latency of the remote extraction tier, including fallback",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Result cache lookups by result (hit, miss, error)",
		}, []string{"result"}),

		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Batch jobs by final status",
		}, []string{"status"}),
	}
}

func (m *Metrics) ObserveValue(path string, changes int) {
	if m == nil {
		return
	}
	m.Values.WithLabelValues(path).Inc()
	if changes > 0 {
		m.Tokens.Add(float64(changes))
	}
}

func (m *Metrics) ObserveFailure(tier, kind string) {
	if m == nil {
		return
	}
	m.TierFailures.WithLabelValues(tier, kind).Inc()
}

func (m *Metrics) ObservePasses(passes int) {
	if m == nil {
		return
	}
	m.RewritePasses.Observe(float64(passes))
}

func (m *Metrics) ObserveRemote(d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveJob(status string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(status).Inc()
}
