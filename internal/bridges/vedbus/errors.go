package vedbus

import "errors"

// Domain errors for the vedbus package.
var (
	// ErrNameTaken is returned when the service name is already owned on the bus.
	ErrNameTaken = errors.New("vedbus: service name already taken")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("vedbus: service already started")

	// ErrNotConnected is returned when connecting to the message bus fails.
	ErrNotConnected = errors.New("vedbus: not connected to message bus")
)
