package transport

import "errors"

var (
	// ErrListenerClosed is returned when a started listener is used after
	// Stop.
	ErrListenerClosed = errors.New("transport: listener closed")

	// ErrRelayStopped is returned when a relay operation is attempted
	// after Stop.
	ErrRelayStopped = errors.New("transport: relay stopped")

	// ErrNoDestination is returned by the command sender when neither the
	// caller nor the configuration supplies a gateway address.
	ErrNoDestination = errors.New("transport: no destination address")

	// ErrNotStarted is returned when Stop or a data accessor is called
	// before Start.
	ErrNotStarted = errors.New("transport: not started")
)
