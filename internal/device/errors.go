package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnknownPath) {
//	    // path was never declared on this device
//	}
var (
	// ErrUnknownPath is returned when reading or writing a path that was never declared.
	ErrUnknownPath = errors.New("device: unknown path")

	// ErrNotWritable is returned when an external client writes a read-only path.
	ErrNotWritable = errors.New("device: path is not writable")

	// ErrInvalidPath is returned when a declared path is not a valid object path.
	ErrInvalidPath = errors.New("device: invalid path")

	// ErrDuplicatePath is returned when the same path is declared twice.
	ErrDuplicatePath = errors.New("device: duplicate path")

	// ErrInvalidValue is returned when a value has a type the bus cannot carry.
	ErrInvalidValue = errors.New("device: invalid value")

	// ErrInvalidIdentity is returned when the device identity is incomplete.
	ErrInvalidIdentity = errors.New("device: invalid identity")

	// ErrDeviceNotFound is returned when a service name is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDuplicateService is returned when registering a service name twice.
	ErrDuplicateService = errors.New("device: service already registered")
)
