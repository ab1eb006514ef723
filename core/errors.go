package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced by a transport or by the dispatch path
// matches exactly one of these under errors.Is.
var (
	// ErrConnection means the transport handle could not be established or was lost.
	ErrConnection = errors.New("eventbus: connection error")

	// ErrDeclaration means an exchange, queue, binding or consumer could not be set up.
	ErrDeclaration = errors.New("eventbus: declaration error")

	// ErrPublish means a message was not confirmed by the broker.
	ErrPublish = errors.New("eventbus: publish error")

	// ErrDecoding means a delivery carried a non-text payload or an unknown routing key.
	ErrDecoding = errors.New("eventbus: decoding error")

	// ErrAcknowledgment means the ack/nack round-trip for a delivery failed.
	ErrAcknowledgment = errors.New("eventbus: acknowledgment error")
)

var (
	// ErrBusClosed is returned when operations are attempted on a closed bus,
	// including a second call to Close.
	ErrBusClosed = errors.New("eventbus: bus is closed")

	// ErrNotConfirmed is the cause of an ErrPublish when the broker negatively
	// acknowledged the message.
	ErrNotConfirmed = errors.New("eventbus: message not confirmed by broker")

	// ErrNoBus is returned when a facade is used without a bus.
	ErrNoBus = errors.New("eventbus: bus is nil")

	// ErrUnknownTransport is returned by the broker registry for unregistered names.
	ErrUnknownTransport = errors.New("eventbus: unknown transport")
)

// Error describes a failed bus operation. Kind is one of the error kinds
// above, Op names the operation and Err carries the underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap lets errors.Is match both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap builds an *Error of the given kind. A nil err still yields an error,
// so callers can use it for conditions that have no underlying cause.
func Wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports which error kind err belongs to, or nil if none.
func KindOf(err error) error {
	for _, k := range []error{ErrConnection, ErrDeclaration, ErrPublish, ErrDecoding, ErrAcknowledgment} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
