package reading

import "errors"

// Domain errors for the reading package.
var (
	// ErrParse is returned when a payload is not a decimal number.
	ErrParse = errors.New("reading: payload is not a number")

	// ErrNotFinite is returned when a value is NaN or infinite.
	// Such values are rejected by Put so the cache only ever holds finite floats.
	ErrNotFinite = errors.New("reading: value is not finite")
)
