package capability

import "errors"

var (
	// ErrSinkFailed wraps errors returned by sinks during a change.
	ErrSinkFailed = errors.New("capability: sink failed")

	// ErrDuplicateSink is returned when a sink name is already registered.
	ErrDuplicateSink = errors.New("capability: sink already registered")
)
