package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrGatewayNotReady) {
//	    // wait for the next heartbeat to carry a token
//	}
var (
	// ErrMalformedPacket is returned when a packet is missing one of the
	// mandatory fields (cmd, sid, model, data). The packet is dropped;
	// no device state is mutated.
	ErrMalformedPacket = errors.New("device: malformed packet")

	// ErrInvalidDepth is returned when a capability history depth below 1
	// is configured. A depth of 0 would leave the change predicate with
	// nothing to compare against.
	ErrInvalidDepth = errors.New("device: invalid history depth")

	// ErrInvalidPrecision is returned when registering a coarse-change
	// subscriber with a precision that is not a positive number.
	ErrInvalidPrecision = errors.New("device: invalid precision")

	// ErrInvalidColorComponent is returned when a gateway color command
	// carries a channel value outside 0-255.
	ErrInvalidColorComponent = errors.New("device: invalid color component")

	// ErrInvalidVolume is returned when a gateway audio command carries a
	// volume outside 0-100.
	ErrInvalidVolume = errors.New("device: invalid volume")

	// ErrGatewayNotReady is returned from gateway command methods before
	// the first token-bearing packet has been received.
	ErrGatewayNotReady = errors.New("device: gateway token not yet received")

	// ErrGatewayNotConfigured is returned from gateway command methods
	// when no shared secret has been configured.
	ErrGatewayNotConfigured = errors.New("device: gateway secret not configured")

	// ErrInvalidKeyMaterial is returned when the shared secret or session
	// token is not the 16 bytes the key derivation requires.
	ErrInvalidKeyMaterial = errors.New("device: invalid key material")

	// ErrNoCommandSender is returned from gateway command methods when no
	// outbound transport has been injected.
	ErrNoCommandSender = errors.New("device: no command sender configured")
)
