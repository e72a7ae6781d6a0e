package mqtt

import "fmt"

// TopicPrefix is the root of every topic the daemon publishes or consumes.
//
// Hierarchy:
//
//	usbrole/system/{client_id}/availability
//	usbrole/port/{port_id}/capability/{capability}   retained "true"/"false" JSON state
//	usbrole/port/{port_id}/role                      role transition events
//	usbrole/port/{port_id}/status                    retained port status snapshot
//	usbrole/port/{port_id}/command                   inbound control commands
//	usbrole/port/{port_id}/ack                       command acknowledgements
const TopicPrefix = "usbrole"

// Topics builds the daemon's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.CapabilityState("otg0", "usb-host")
//	// Returns: "usbrole/port/otg0/capability/usb-host"
type Topics struct{}

// Availability returns the retained online/offline topic for a daemon instance.
//
// Example: usbrole/system/usbrole-otg0/availability
func (Topics) Availability(clientID string) string {
	return fmt.Sprintf("%s/system/%s/availability", TopicPrefix, clientID)
}

// CapabilityState returns the retained state topic for one capability of a port.
//
// Example: usbrole/port/otg0/capability/usb
func (Topics) CapabilityState(portID, capability string) string {
	return fmt.Sprintf("%s/port/%s/capability/%s", TopicPrefix, portID, capability)
}

// RoleEvent returns the topic carrying role transitions.
//
// Example: usbrole/port/otg0/role
func (Topics) RoleEvent(portID string) string {
	return fmt.Sprintf("%s/port/%s/role", TopicPrefix, portID)
}

// PortStatus returns the retained status snapshot topic.
//
// Example: usbrole/port/otg0/status
func (Topics) PortStatus(portID string) string {
	return fmt.Sprintf("%s/port/%s/status", TopicPrefix, portID)
}

// Command returns the inbound control topic for a port.
//
// Example: usbrole/port/otg0/command
func (Topics) Command(portID string) string {
	return fmt.Sprintf("%s/port/%s/command", TopicPrefix, portID)
}

// Ack returns the topic for command acknowledgements.
//
// Example: usbrole/port/otg0/ack
func (Topics) Ack(portID string) string {
	return fmt.Sprintf("%s/port/%s/ack", TopicPrefix, portID)
}

// AllCapabilityStates matches every capability of every port.
//
// Pattern: usbrole/port/+/capability/+
func (Topics) AllCapabilityStates() string {
	return fmt.Sprintf("%s/port/+/capability/+", TopicPrefix)
}

// AllRoleEvents matches role transitions of every port.
//
// Pattern: usbrole/port/+/role
func (Topics) AllRoleEvents() string {
	return fmt.Sprintf("%s/port/+/role", TopicPrefix)
}

// AllTopics matches everything under the prefix.
//
// Pattern: usbrole/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
