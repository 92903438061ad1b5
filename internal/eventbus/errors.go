package eventbus

import "errors"

// Domain errors for the eventbus package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, eventbus.ErrUnknownEvent) {
//	    // handle undeclared event name
//	}
var (
	// ErrUnknownEvent is returned when subscribing to an event name the
	// bus did not declare at construction time.
	ErrUnknownEvent = errors.New("eventbus: unknown event")
)
