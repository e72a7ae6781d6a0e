package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-usbrole/internal/usbrole"
)

// Change is one capability flag transition.
type Change struct {
	EventID    uuid.UUID          `json:"event_id"`
	PortID     string             `json:"port_id"`
	Capability usbrole.Capability `json:"capability"`
	Active     bool               `json:"active"`
	At         time.Time          `json:"timestamp"`
}

// Sink consumes capability changes. HandleChange runs while the registry
// is locked and must not call back into it.
type Sink interface {
	HandleChange(ctx context.Context, change Change) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, change Change) error

// HandleChange calls f.
func (f SinkFunc) HandleChange(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// Logger defines the logging interface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type namedSink struct {
	name string
	sink Sink
}

// Registry holds the current capability flags of one port.
//
// Thread Safety: all methods are safe for concurrent use. Changes are
// delivered to sinks in the order they were made.
type Registry struct {
	portID string

	mu     sync.Mutex
	state  map[usbrole.Capability]bool
	sinks  []namedSink
	logger Logger

	now func() time.Time
}

// NewRegistry creates an empty registry for portID. No capability is
// known until the first SetState.
func NewRegistry(portID string) *Registry {
	return &Registry{
		portID: portID,
		state:  make(map[usbrole.Capability]bool),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger. Call before the registry is shared.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Subscribe registers a sink under name and returns a function that
// removes it again.
func (r *Registry) Subscribe(name string, sink Sink) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sinks {
		if s.name == name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSink, name)
		}
	}
	r.sinks = append(r.sinks, namedSink{name: name, sink: sink})

	return func() { r.unsubscribe(name) }, nil
}

func (r *Registry) unsubscribe(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.sinks {
		if s.name == name {
			r.sinks = append(r.sinks[:i:i], r.sinks[i+1:]...)
			return
		}
	}
}

// SetState records the flag and notifies every sink when it changed.
// Sink errors do not undo the change; they are joined and returned
// wrapped in ErrSinkFailed.
func (r *Registry) SetState(ctx context.Context, capability usbrole.Capability, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, known := r.state[capability]; known && prev == active {
		return nil
	}
	r.state[capability] = active

	change := Change{
		EventID:    uuid.New(),
		PortID:     r.portID,
		Capability: capability,
		Active:     active,
		At:         r.now().UTC(),
	}
	r.logger.Debug("capability changed",
		"port_id", r.portID,
		"capability", string(capability),
		"active", active,
		"event_id", change.EventID.String(),
	)

	var errs []error
	for _, s := range r.sinks {
		if err := s.sink.HandleChange(ctx, change); err != nil {
			r.logger.Warn("capability sink failed", "sink", s.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrSinkFailed, errors.Join(errs...))
	}
	return nil
}

// Snapshot returns a copy of every known flag.
func (r *Registry) Snapshot() map[usbrole.Capability]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[usbrole.Capability]bool, len(r.state))
	for k, v := range r.state {
		out[k] = v
	}
	return out
}
