package middleware

import (
	"fmt"
	"runtime"

	log "github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/core"
)

// Recovery returns middleware that recovers from panics in handlers,
// logs the stack trace, and returns the panic as an error so the delivery
// is nacked instead of the dispatch loop dying.
func Recovery() core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					log.WithFields(log.Fields{
						"queue":       c.Queue(),
						"routing_key": c.RoutingKey(),
					}).Errorf("panic recovered: %v\n%s", r, buf[:n])
					err = fmt.Errorf("eventbus: panic recovered: %v", r)
				}
			}()
			return next(c)
		}
	}
}
