package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromSink exposes the latest value of every metric as a gauge.
type PromSink struct {
	latest  *prometheus.GaugeVec
	updates *prometheus.CounterVec
}

// NewPromSink registers the sink's collectors with reg.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	s := &PromSink{
		latest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_metric",
			Help: "Latest value of a training metric",
		}, []string{"name"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_metric_updates_total",
			Help: "Number of times a training metric was logged",
		}, []string{"name"}),
	}
	for _, c := range []prometheus.Collector{s.latest, s.updates} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PromSink) Log(name string, value float64) {
	s.latest.WithLabelValues(name).Set(value)
	s.updates.WithLabelValues(name).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
