// Package capability tracks the capability flags a port publishes and fans
// every change out to registered sinks.
//
// The Registry implements usbrole.Publisher. Setting a flag to the value it
// already holds does nothing, so the detector can re-assert state freely.
// Each real change is stamped with an event ID and handed to every sink in
// registration order, synchronously, before SetState returns.
//
//	reg := capability.NewRegistry("otg0")
//	reg.Subscribe("mqtt", capability.NewMQTTSink(client))
//	reg.Subscribe("influx", capability.NewMetricsSink(influx))
//
//	port, err := usbrole.New(ctx, usbrole.Options{Publisher: reg, ...})
package capability
