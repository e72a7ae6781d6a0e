package control

import (
	"time"

	"github.com/nerrad567/gray-logic-usbrole/internal/usbrole"
)

// Command names accepted on the command topic.
const (
	CommandOTG     = "otg"
	CommandWake    = "wake"
	CommandSuspend = "suspend"
	CommandResume  = "resume"
	CommandStatus  = "status"
)

// CommandMessage is received on usbrole/port/{port_id}/command.
//
//	{"id":"c1","command":"otg","enable":true}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Optional.
	ID string `json:"id,omitempty"`

	// Command is one of otg, wake, suspend, resume, status.
	Command string `json:"command"`

	// Enable is required for otg and wake.
	Enable *bool `json:"enable,omitempty"`

	// Timestamp is when the command was issued.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the command was executed.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes carried in failed acknowledgements.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotSupported      = "NOT_SUPPORTED"
	ErrCodePortError         = "PORT_ERROR"
	ErrCodePortClosed        = "PORT_CLOSED"
)

// AckMessage is published on usbrole/port/{port_id}/ack.
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	Command   string    `json:"command"`
	PortID    string    `json:"port_id"`
	Status    AckStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusMessage is the retained snapshot on usbrole/port/{port_id}/status.
type StatusMessage struct {
	PortID       string          `json:"port_id"`
	Role         string          `json:"role"`
	HostSensing  bool            `json:"host_sensing"`
	IDPresent    bool            `json:"id_present"`
	VBUSPresent  bool            `json:"vbus_present"`
	WakeSource   bool            `json:"wake_source"`
	WakeArmed    int             `json:"wake_armed"`
	DebounceMS   int64           `json:"debounce_ms"`
	PendingCheck bool            `json:"pending_check"`
	Suspended    bool            `json:"suspended"`
	Capabilities map[string]bool `json:"capabilities"`
	Timestamp    time.Time       `json:"timestamp"`
}

func newStatusMessage(portID string, st usbrole.Status, suspended bool, caps map[usbrole.Capability]bool, now time.Time) StatusMessage {
	flags := make(map[string]bool, len(caps))
	for k, v := range caps {
		flags[string(k)] = v
	}
	return StatusMessage{
		PortID:       portID,
		Role:         st.Role.String(),
		HostSensing:  st.HostSensing,
		IDPresent:    st.IDPresent,
		VBUSPresent:  st.VBUSPresent,
		WakeSource:   st.WakeSource,
		WakeArmed:    st.WakeArmed,
		DebounceMS:   st.Debounce.Milliseconds(),
		PendingCheck: st.PendingCheck,
		Suspended:    suspended,
		Capabilities: flags,
		Timestamp:    now,
	}
}
