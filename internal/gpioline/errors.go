package gpioline

import "errors"

// Sentinel errors for the GPIO adapter.
var (
	// ErrPinNotFound is returned when a configured pin name is not registered.
	ErrPinNotFound = errors.New("gpioline: pin not found")

	// ErrDebounceUnsupported is returned by SetDebounce; periph pins have no
	// hardware debounce, so callers fall back to a software delay.
	ErrDebounceUnsupported = errors.New("gpioline: hardware debounce not supported")

	// ErrWakeUnsupported is returned by SetWake when no wakeup attribute is configured.
	ErrWakeUnsupported = errors.New("gpioline: wake source not supported")

	// ErrAlreadyAttached is returned by Attach on a line that is already watched.
	ErrAlreadyAttached = errors.New("gpioline: edge watch already attached")
)
