package health

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors the Registry's counters as Prometheus collectors so the
// (external, out-of-core) status endpoint can scrape them without the core
// depending on any HTTP framework. The core only registers and updates
// these; it never serves them.
type Metrics struct {
	MsgsTotal     *prometheus.CounterVec
	DigestOK      *prometheus.CounterVec
	DigestFail    *prometheus.CounterVec
	Reconnects    *prometheus.CounterVec
	SlowConsumer  prometheus.Counter
	VerifyLatency *prometheus.HistogramVec
}

// NewMetrics constructs and registers the collectors on reg. Passing a
// fresh prometheus.NewRegistry() in tests avoids colliding with the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MsgsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blackbox",
			Name:      "messages_total",
			Help:      "Total wire frames processed per symbol.",
		}, []string{"symbol"}),
		DigestOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blackbox",
			Name:      "digest_ok_total",
			Help:      "Digest verifications that matched per symbol.",
		}, []string{"symbol"}),
		DigestFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blackbox",
			Name:      "digest_fail_total",
			Help:      "Digest verifications that mismatched per symbol.",
		}, []string{"symbol"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blackbox",
			Name:      "reconnects_total",
			Help:      "Transport reconnects per symbol.",
		}, []string{"symbol"}),
		SlowConsumer: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blackbox",
			Name:      "slow_consumer_total",
			Help:      "Times the T1->T2 channel was observed full.",
		}),
		VerifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "blackbox",
			Name:      "verify_latency_seconds",
			Help:      "Digest verification latency per symbol.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"symbol"}),
	}
	reg.MustRegister(m.MsgsTotal, m.DigestOK, m.DigestFail, m.Reconnects, m.SlowConsumer, m.VerifyLatency)
	return m
}
