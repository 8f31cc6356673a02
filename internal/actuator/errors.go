package actuator

import "errors"

// Domain errors for the actuator registry.
var (
	// ErrNotConfigured is returned when no slot exists on the gpio.
	ErrNotConfigured = errors.New("actuator: not configured")

	// ErrInvalidConfig is returned for configs that fail validation.
	ErrInvalidConfig = errors.New("actuator: invalid config")

	// ErrCapacity is returned when the board's actuator limit is reached.
	ErrCapacity = errors.New("actuator: maximum actuators configured")

	// ErrPinOwnedBySensor is returned when a sensor slot holds the gpio.
	ErrPinOwnedBySensor = errors.New("actuator: gpio owned by a sensor")

	// ErrEmergencyActive is returned for commands while the system emergency stop is active.
	ErrEmergencyActive = errors.New("actuator: system emergency stop active")

	// ErrEmergencyStopped is returned for commands to an individually stopped actuator.
	ErrEmergencyStopped = errors.New("actuator: actuator emergency stopped")

	// ErrInactive is returned for commands to a slot configured inactive.
	ErrInactive = errors.New("actuator: actuator inactive")

	// ErrClearNotVerified is returned when a driver still reports emergency after a clear.
	ErrClearNotVerified = errors.New("actuator: emergency clear not verified")
)
