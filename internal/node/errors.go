package node

import "errors"

// Domain errors for the node.
var (
	// ErrMissingComponent is returned by New when a required collaborator is nil.
	ErrMissingComponent = errors.New("node: missing component")

	// ErrUnknownCommand is returned for command topics with no handler.
	ErrUnknownCommand = errors.New("node: unknown command")

	// ErrInvalidCommand is returned for command payloads that cannot be decoded
	// or that lack required fields.
	ErrInvalidCommand = errors.New("node: invalid command payload")
)
