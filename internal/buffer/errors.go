package buffer

import "errors"

var (
	// ErrNotInitialized is returned by Add on a buffer with no capacity.
	ErrNotInitialized = errors.New("buffer: not initialized")

	// ErrInvalidCapacity is returned by Init for capacities below one.
	ErrInvalidCapacity = errors.New("buffer: capacity must be positive")

	// ErrEmpty is returned when there is nothing to read.
	ErrEmpty = errors.New("buffer: empty")

	// ErrIntegrity is returned when an entry's checksum does not match its fields.
	ErrIntegrity = errors.New("buffer: checksum mismatch")
)
