// Package usbrole decides which USB role a port is playing from its ID and
// VBUS sense lines and reports it as two capability flags.
//
// # Roles
//
// A port is in exactly one of three roles:
//
//	RoleNone        no cable, or a cable without VBUS
//	RolePeripheral  "USB": VBUS present, no host claim on ID
//	RoleHost        "USB-HOST": ID pulled low by an OTG adapter
//
// The role is mirrored to a Publisher as two independent capabilities,
// CapabilityUSB and CapabilityUSBHost. Transitions always set both flags
// explicitly where needed; the publisher never infers one from the other.
//
// # Detection
//
// Edges on either sense line record which line fired and (re)arm a single
// slot scheduler. When the lines have been quiet for the debounce window the
// detector samples both lines and applies the transition table in
// detector.go. A burst of edges collapses into one evaluation at the last
// edge plus the window.
//
// # Host sensing (OTG)
//
// The ID interrupt is not attached at start. SetHostSensingEnabled pulls the
// ID line up, waits for it to settle and attaches the interrupt; disabling
// detaches it, drops a stale Host flag when the line no longer claims host
// and pulls the line back down.
//
// # Power management
//
// Suspend arms wake-on-edge for every attached line when the port is a wake
// source, and Resume disarms them and forces an immediate re-evaluation.
//
// Thread Safety:
//   - All exported methods of Port are safe for concurrent use.
package usbrole
