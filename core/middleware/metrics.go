package middleware

import (
	"time"

	"github.com/miladsoleymani/eventbus/core"
)

// MetricsCollector is the interface that metrics backends must implement.
type MetricsCollector interface {
	// DeliveryHandled records that a delivery was handled.
	// duration is handling time and err is nil on success.
	DeliveryHandled(queue, routingKey string, duration time.Duration, err error)
}

// Metrics returns middleware that reports handling metrics to the given collector.
func Metrics(collector MetricsCollector) core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) error {
			start := time.Now()
			err := next(c)
			collector.DeliveryHandled(c.Queue(), c.RoutingKey(), time.Since(start), err)
			return err
		}
	}
}
