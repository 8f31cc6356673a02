package driver

import "errors"

// Domain errors for the driver package.
var (
	// ErrNotInitialized is returned when a driver is used before Begin.
	ErrNotInitialized = errors.New("driver: not initialized")

	// ErrValueOutOfRange is returned by SetValue for values outside [0, 1].
	ErrValueOutOfRange = errors.New("driver: value out of range")

	// ErrEmergencyLatched is returned when commanding an actuator whose
	// emergency latch is set.
	ErrEmergencyLatched = errors.New("driver: emergency latched")

	// ErrInvalidReading is returned when a sensor produced no usable value.
	ErrInvalidReading = errors.New("driver: invalid reading")

	// ErrUnknownType is returned by the catalog for unregistered type tags.
	ErrUnknownType = errors.New("driver: unknown type")

	// ErrKindMismatch is returned when a library instance is not the kind requested.
	ErrKindMismatch = errors.New("driver: library kind mismatch")

	// ErrNoLibrarySource is returned when a config names a library but no loader is wired.
	ErrNoLibrarySource = errors.New("driver: no library source")

	// ErrUnknownLine is returned by a Pins backend for GPIO lines it cannot open.
	ErrUnknownLine = errors.New("driver: unknown gpio line")

	// ErrInjected is the default error used by virtual drivers' fault injection.
	ErrInjected = errors.New("driver: injected fault")
)
