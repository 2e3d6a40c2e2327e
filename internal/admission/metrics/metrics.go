package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the admission collectors. A nil *Metrics is valid and records
// nothing, so services and tests can run without a registry.
type Metrics struct {
	Decisions     *prometheus.CounterVec
	StoreFailures prometheus.Counter
	ProbeFailures prometheus.Counter
	ChargedBytes  prometheus.Counter
	StoreLatency  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgconvert_admission_decisions_total",
			Help: "Admission outcomes by status",
		}, []string{"status"}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgconvert_admission_store_failures_total",
			Help: "Admission checks that failed closed because the counter store was unavailable",
		}),
		ProbeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgconvert_admission_probe_failures_total",
			Help: "Remote size probes that degraded to a zero-byte estimate",
		}),
		ChargedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgconvert_admission_charged_bytes_total",
			Help: "Bytes charged against daily quotas by admitted requests",
		}),
		StoreLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgconvert_admission_store_duration_seconds",
			Help:    "Latency of the admission script round trip",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) ObserveDecision(status string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementStoreFailures() {
	if m == nil {
		return
	}
	m.StoreFailures.Inc()
}

func (m *Metrics) IncrementProbeFailures() {
	if m == nil {
		return
	}
	m.ProbeFailures.Inc()
}

func (m *Metrics) AddChargedBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ChargedBytes.Add(float64(n))
}

func (m *Metrics) ObserveStoreLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.StoreLatency.Observe(d.Seconds())
}
