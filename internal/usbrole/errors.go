package usbrole

import "errors"

// Domain errors for the usbrole package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, usbrole.ErrAttachFailed) {
//	    // host sensing stays off
//	}
var (
	// ErrNoSenseLines is returned by New when neither ID nor VBUS is wired.
	ErrNoSenseLines = errors.New("usbrole: no sense lines")

	// ErrNoPublisher is returned by New without a state publisher.
	ErrNoPublisher = errors.New("usbrole: publisher is required")

	// ErrNoIDLine is returned when host sensing is toggled on a port without ID.
	ErrNoIDLine = errors.New("usbrole: no ID line")

	// ErrAttachFailed is returned when an edge interrupt cannot be attached.
	ErrAttachFailed = errors.New("usbrole: interrupt attach failed")

	// ErrWakeArm is returned when wake sources cannot be armed or disarmed.
	ErrWakeArm = errors.New("usbrole: wake arming failed")

	// ErrPinState is returned when the sleep or default pin state cannot be applied.
	ErrPinState = errors.New("usbrole: pin state change failed")

	// ErrClosed is returned by operations on a closed port.
	ErrClosed = errors.New("usbrole: port closed")
)
