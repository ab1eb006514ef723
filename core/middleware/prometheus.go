package middleware

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromCollector is a MetricsCollector backed by a private Prometheus registry.
type PromCollector struct {
	reg        *prometheus.Registry
	Deliveries *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

func NewPromCollector() *PromCollector {
	reg := prometheus.NewRegistry()
	p := &PromCollector{
		reg: reg,
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "deliveries_total",
			Help:      "Deliveries handled, by queue, routing key and result",
		}, []string{"queue", "routing_key", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventbus",
			Name:      "delivery_duration_seconds",
			Help:      "Handler latency per delivery",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "routing_key"}),
	}
	reg.MustRegister(p.Deliveries, p.Duration)
	return p
}

func (p *PromCollector) DeliveryHandled(queue, routingKey string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.Deliveries.WithLabelValues(queue, routingKey, result).Inc()
	p.Duration.WithLabelValues(queue, routingKey).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PromCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}
