package usbrole

import (
	"context"
	"time"
)

// Role is the logical USB role of the port.
type Role int

const (
	// RoleNone means nothing usable is attached.
	RoleNone Role = iota

	// RolePeripheral means the port is powered by a host ("USB").
	RolePeripheral

	// RoleHost means an OTG adapter claims host mode ("USB-HOST").
	RoleHost
)

// String returns the cable name used by consumers.
func (r Role) String() string {
	switch r {
	case RolePeripheral:
		return "USB"
	case RoleHost:
		return "USB-HOST"
	default:
		return "none"
	}
}

// Capability is a boolean flag published to consumers.
type Capability string

const (
	// CapabilityUSB is active while the port is a peripheral.
	CapabilityUSB Capability = "usb"

	// CapabilityUSBHost is active while the port is a host.
	CapabilityUSBHost Capability = "usb-host"
)

// Trigger identifies the line whose edge caused an evaluation.
type Trigger int

const (
	// TriggerNone marks a forced evaluation (startup, resume).
	TriggerNone Trigger = iota

	// TriggerID marks an edge on the ID line.
	TriggerID

	// TriggerVBUS marks an edge on the VBUS line.
	TriggerVBUS
)

// String returns the trigger name for logging.
func (t Trigger) String() string {
	switch t {
	case TriggerID:
		return "id"
	case TriggerVBUS:
		return "vbus"
	default:
		return "none"
	}
}

// Bias is the electrical state forced onto the ID line.
type Bias int

const (
	// BiasPullDown parks the ID line low; used while host sensing is off.
	BiasPullDown Bias = iota

	// BiasPullUp lets an OTG adapter pull the line low to claim host.
	BiasPullUp
)

// String returns the bias name for logging.
func (b Bias) String() string {
	if b == BiasPullUp {
		return "pull-up"
	}
	return "pull-down"
}

// SenseLine is a digital input with edge interrupt capability.
//
// Read returns true when the line is electrically high ("asserted").
// For ID that means no host claim; for VBUS it means bus power is present.
type SenseLine interface {
	// Name identifies the line in logs.
	Name() string

	// Read samples the line. It may block on slow buses.
	Read(ctx context.Context) (bool, error)

	// SetDebounce configures hardware debouncing.
	SetDebounce(window time.Duration) error

	// Attach starts delivering both-edge interrupts to onEdge.
	// onEdge must not block.
	Attach(onEdge func()) error

	// Detach stops edge delivery. In-flight callbacks have returned
	// when Detach returns.
	Detach() error

	// SetWake arms or disarms the line as a system wake source.
	SetWake(enable bool) error
}

// BiasController forces the ID line to a known level.
type BiasController interface {
	SetBias(ctx context.Context, bias Bias) error
}

// Publisher receives capability state. Calls are synchronous and setting
// a capability to its current value must be harmless.
type Publisher interface {
	SetState(ctx context.Context, capability Capability, active bool) error
}

// PinStates switches the lines between their normal and low-power
// electrical configuration.
type PinStates interface {
	SelectSleep() error
	SelectDefault() error
}

// Logger defines the logging interface used by the port.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopBias struct{}

func (noopBias) SetBias(context.Context, Bias) error { return nil }

// Reading is one sample of both lines. A nil field means the line is
// absent or could not be read.
type Reading struct {
	ID   *bool
	VBUS *bool
}

// idAsserted reports whether ID is high (no host claim). A missing ID
// line never claims host.
func (r Reading) idAsserted() bool {
	return r.ID == nil || *r.ID
}

// vbusAsserted reports whether bus power is present. A missing VBUS line
// reads as no power.
func (r Reading) vbusAsserted() bool {
	return r.VBUS != nil && *r.VBUS
}

// StateChange is one publisher call produced by a transition.
type StateChange struct {
	Capability Capability
	Active     bool
}

// Status is a point-in-time view of the port.
type Status struct {
	Role         Role          `json:"role"`
	HostSensing  bool          `json:"host_sensing"`
	IDPresent    bool          `json:"id_present"`
	VBUSPresent  bool          `json:"vbus_present"`
	WakeSource   bool          `json:"wake_source"`
	WakeArmed    int           `json:"wake_armed"`
	Debounce     time.Duration `json:"debounce"`
	PendingCheck bool          `json:"pending_check"`
}
