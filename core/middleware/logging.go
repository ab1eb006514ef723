package middleware

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/core"
)

// Logging returns middleware that logs handling duration and errors on the
// standard logrus logger.
func Logging() core.MiddlewareFunc {
	return LoggingWith(log.StandardLogger())
}

// LoggingWith is Logging on a caller-provided logger.
func LoggingWith(logger log.FieldLogger) core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) error {
			start := time.Now()
			err := next(c)

			entry := logger.WithFields(log.Fields{
				"queue":       c.Queue(),
				"exchange":    c.Exchange(),
				"routing_key": c.RoutingKey(),
				"elapsed":     time.Since(start).String(),
			})
			if err != nil {
				entry.WithError(err).Error("delivery failed")
			} else {
				entry.Debug("delivery handled")
			}
			return err
		}
	}
}
