// Package mqtt connects the USB role daemon to an MQTT broker.
//
// The daemon publishes each port's capability flags as retained state,
// emits role transition events, and listens for control commands (OTG
// switch, wake source, suspend, resume, status) on a per-port command
// topic. A
// retained availability message, backed by a Last Will, tells consumers
// whether the daemon is alive.
//
//	usbroled ↔ MQTT broker ↔ USB stack consumers / controllers
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.CapabilityState("otg0", "usb")
//	err = client.PublishRetained(topic, []byte(`{"active":true}`))
//
// TLS should be enabled (mqtt.broker.tls) whenever the broker is not on
// the local host.
package mqtt
