package control

import "errors"

var (
	// ErrNotStarted is returned by operations that need Start first.
	ErrNotStarted = errors.New("control: service not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("control: service already started")

	// ErrInvalidCommand is returned for malformed or unknown commands.
	ErrInvalidCommand = errors.New("control: invalid command")

	errMissingEnable = errors.New("enable is required")
)
