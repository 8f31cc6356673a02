package sensor

import "errors"

// Domain errors for the sensor registry.
var (
	// ErrNotConfigured is returned when no slot exists on the gpio.
	ErrNotConfigured = errors.New("sensor: not configured")

	// ErrInvalidConfig is returned for configs that fail validation.
	ErrInvalidConfig = errors.New("sensor: invalid config")

	// ErrCapacity is returned when the board's sensor limit is reached.
	ErrCapacity = errors.New("sensor: maximum sensors configured")

	// ErrPinOwnedByActuator is returned when an actuator slot holds the gpio.
	ErrPinOwnedByActuator = errors.New("sensor: gpio owned by an actuator")

	// ErrInvalidReading is returned when a value falls outside the sensor's valid range.
	ErrInvalidReading = errors.New("sensor: invalid reading")

	// ErrRemoteStatus is returned when the processing server answers with a non-200 status.
	ErrRemoteStatus = errors.New("sensor: remote processing failed")
)
