package core

import (
	"context"
	"time"
)

// Bus defines the contract for message transport implementations.
// Each transport plugin must implement this interface. Arguments are plain
// topology names and byte payloads, never transport-specific types.
type Bus interface {
	// Publish sends payload to exchange with routingKey and returns only once
	// the broker confirmed the message. Failures wrap ErrPublish. No retry is
	// attempted.
	Publish(ctx context.Context, exchange, routingKey string, payload []byte) error

	// Listen declares queue (idempotently), binds it to exchange for every
	// routing key and starts a background dispatch loop calling h for each
	// delivery. It returns as soon as setup succeeded; setup failures wrap
	// ErrDeclaration and no loop is started. ctx bounds only the setup.
	Listen(ctx context.Context, queue, exchange string, routingKeys []string, h Handler) (Subscription, error)

	// Close stops every outstanding subscription and releases the transport
	// with a normal-closure code. A second call returns ErrBusClosed.
	Close(ctx context.Context) error
}

// Subscription is the handle of one dispatch loop started by Listen.
type Subscription interface {
	// Queue returns the queue this loop consumes.
	Queue() string

	// Consumer returns the consumer tag registered with the transport.
	Consumer() string

	// Done is closed once the loop has exited.
	Done() <-chan struct{}

	// Stop cancels the consumer and waits for the loop to exit or ctx to end.
	// It is safe to call more than once.
	Stop(ctx context.Context) error
}

// WithDefaultTimeout returns ctx unchanged (but cancellable) when it already
// has a deadline, otherwise a derived context that expires after d.
func WithDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// RunWithContext runs fn on its own goroutine and returns its error, or
// ctx.Err() if ctx ends first. It is used to bound transport calls that do
// not accept a context; fn keeps running in the background in that case.
func RunWithContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
