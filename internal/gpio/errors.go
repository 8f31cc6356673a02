package gpio

import "errors"

// Domain errors for the gpio package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, gpio.ErrPinInUse) {
//	    // pin belongs to another sensor or actuator
//	}
var (
	// ErrPinOutOfRange is returned for pin numbers the board does not have.
	ErrPinOutOfRange = errors.New("gpio: pin out of range")

	// ErrPinReserved is returned for pins the board profile never hands out
	// (flash, UART console, boot strapping).
	ErrPinReserved = errors.New("gpio: pin reserved")

	// ErrPinInUse is returned when a pin is already held by a different owner.
	ErrPinInUse = errors.New("gpio: pin already owned")

	// ErrInvalidOwner is returned when claiming with an owner kind that cannot hold a pin.
	ErrInvalidOwner = errors.New("gpio: invalid owner")

	// ErrUnknownBoard is returned by LookupBoard for unregistered profile names.
	ErrUnknownBoard = errors.New("gpio: unknown board profile")
)
