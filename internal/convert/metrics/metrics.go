package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds conversion collectors. A nil *Metrics records nothing.
type Metrics struct {
	Files    *prometheus.CounterVec
	Requests *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Files: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgconvert_convert_files_total",
			Help: "Files processed by the conversion service by outcome",
		}, []string{"outcome"}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgconvert_convert_requests_total",
			Help: "Conversion requests by mode and result",
		}, []string{"mode", "result"}),
	}
}

func (m *Metrics) ObserveFile(outcome string) {
	if m == nil {
		return
	}
	m.Files.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(mode string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Requests.WithLabelValues(mode, result).Inc()
}
