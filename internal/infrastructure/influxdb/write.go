package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the daemon.
const (
	MeasurementCapability = "usb_capability"
	MeasurementRole       = "usb_role"
)

// WriteCapabilityChangeAt records one capability flag flip at the time the
// registry saw it. The flag is written both as a boolean and as 0/1 so it
// can be graphed directly.
//
//	client.WriteCapabilityChangeAt("otg0", "usb-host", true, change.At)
func (c *Client) WriteCapabilityChangeAt(portID, capability string, active bool, at time.Time) {
	level := 0
	if active {
		level = 1
	}
	c.writePoint(
		MeasurementCapability,
		map[string]string{
			"port_id":    portID,
			"capability": capability,
		},
		map[string]interface{}{
			"active": active,
			"level":  level,
		},
		at,
	)
}

// WriteRoleTransition records a role change of a port.
//
//	client.WriteRoleTransition("otg0", "none", "device")
func (c *Client) WriteRoleTransition(portID, from, to string) {
	c.writePoint(
		MeasurementRole,
		map[string]string{
			"port_id": portID,
			"role":    to,
		},
		map[string]interface{}{
			"from": from,
			"to":   to,
		},
		time.Now(),
	)
}

// writePoint queues one point. Dropped silently when the client is not
// connected.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
