// Package influxdb records USB role telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Two measurements
// are written:
//   - usb_capability: one point per capability flag flip (port_id, capability tags)
//   - usb_role: one point per role transition (port_id, role tags)
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry switched off
//	}
//	defer client.Close()
//
//	client.WriteCapabilityChangeAt("otg0", "usb", true, time.Now())
//
// Writes are batched and never block the caller. Register SetOnError to
// observe asynchronous write failures.
package influxdb
