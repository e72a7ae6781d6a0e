// Package control exposes a USB port over MQTT.
//
// Commands arrive as JSON on usbrole/port/{port_id}/command:
//
//	{"id":"c1","command":"otg","enable":true}
//	{"command":"wake","enable":true}
//	{"command":"suspend"}
//	{"command":"resume"}
//	{"command":"status"}
//
// Each is acknowledged on usbrole/port/{port_id}/ack with status
// "accepted" or "failed" plus an error code. After every command the
// retained snapshot on usbrole/port/{port_id}/status is refreshed.
//
// ReportRole is meant for usbrole.Options.OnRoleChange. It records the
// transition in the history store and InfluxDB and publishes it on
// usbrole/port/{port_id}/role.
package control
