package library

import "errors"

// Domain errors for the library loader. Checks run in the order listed for
// LoadFromBinary, so the first violated rule determines the error.
var (
	ErrInvalidName      = errors.New("library: name is required")
	ErrAlreadyLoaded    = errors.New("library: already loaded")
	ErrTooManyLibraries = errors.New("library: maximum loaded libraries reached")
	ErrMalformedPayload = errors.New("library: malformed base64 payload")
	ErrSizeMismatch     = errors.New("library: declared size does not match payload")
	ErrTooLarge         = errors.New("library: payload exceeds size limit")
	ErrInvalidBundle    = errors.New("library: invalid bundle")
	ErrUnknownTemplate  = errors.New("library: unknown template")
	ErrNotLoaded        = errors.New("library: not loaded")
	ErrLibraryInUse     = errors.New("library: instance still bound to a slot")
)
