package cleanup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds cleanup collectors. A nil *Metrics records nothing.
type Metrics struct {
	Runs       *prometheus.CounterVec
	Deleted    prometheus.Counter
	Failed     prometheus.Counter
	Candidates prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgconvert_cleanup_runs_total",
			Help: "Cleanup sweeps by result",
		}, []string{"result"}),
		Deleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgconvert_cleanup_deleted_total",
			Help: "Provider resources deleted by cleanup",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgconvert_cleanup_failed_total",
			Help: "Provider resources cleanup could not delete",
		}),
		Candidates: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imgconvert_cleanup_candidates",
			Help: "Expired resources found by the last sweep",
		}),
	}
}

func (m *Metrics) ObserveRun(res *Result, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Runs.WithLabelValues("error").Inc()
		return
	}
	m.Runs.WithLabelValues("ok").Inc()
	m.Deleted.Add(float64(res.Deleted))
	m.Failed.Add(float64(res.Failed))
	m.Candidates.Set(float64(len(res.Candidates)))
}
