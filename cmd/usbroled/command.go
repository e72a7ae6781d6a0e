package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-usbrole/internal/control"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/mqtt"
)

// errCommandFailed is returned when the daemon rejects a command.
var errCommandFailed = errors.New("command failed")

// RemoteFlags are shared by the commands sent to a running daemon.
type RemoteFlags struct {
	Port    string        `help:"Port to address. Defaults to port.id from the configuration."`
	Timeout time.Duration `default:"5s" help:"How long to wait for the acknowledgement."`
}

// OTGCmd enables or disables host sensing.
type OTGCmd struct {
	State string `arg:"" enum:"on,off" help:"\"on\" enables host sensing, \"off\" disables it."`
	RemoteFlags
}

// Run sends an otg command.
func (c *OTGCmd) Run(ctx context.Context, g *Globals) error {
	enable := c.State == "on"
	return c.send(ctx, g, newCommand(control.CommandOTG, &enable, time.Now().UTC()))
}

// WakeCmd arms or disarms the sense lines as system wake sources.
type WakeCmd struct {
	State string `arg:"" enum:"on,off" help:"\"on\" lets a cable event wake the system from suspend."`
	RemoteFlags
}

// Run sends a wake command.
func (c *WakeCmd) Run(ctx context.Context, g *Globals) error {
	enable := c.State == "on"
	return c.send(ctx, g, newCommand(control.CommandWake, &enable, time.Now().UTC()))
}

// SuspendCmd prepares the port for system sleep.
type SuspendCmd struct {
	RemoteFlags
}

// Run sends a suspend command.
func (c *SuspendCmd) Run(ctx context.Context, g *Globals) error {
	return c.send(ctx, g, newCommand(control.CommandSuspend, nil, time.Now().UTC()))
}

// ResumeCmd undoes a previous suspend and re-evaluates the lines.
type ResumeCmd struct {
	RemoteFlags
}

// Run sends a resume command.
func (c *ResumeCmd) Run(ctx context.Context, g *Globals) error {
	return c.send(ctx, g, newCommand(control.CommandResume, nil, time.Now().UTC()))
}

// send publishes cmd on the port's command topic and prints the
// acknowledgement.
func (f RemoteFlags) send(ctx context.Context, g *Globals, cmd control.CommandMessage) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.MQTT.Enabled {
		return fmt.Errorf("mqtt is disabled in %s", g.Config)
	}

	portID := f.Port
	if portID == "" {
		portID = cfg.Port.ID
	}

	ack, err := sendCommand(ctx, cliMQTTConfig(cfg.MQTT), portID, cmd, f.Timeout)
	if err != nil {
		return err
	}
	if err := ackResult(ack); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s: %s\n", commandLabel(cmd), ack.Status)
	return nil
}

// cliMQTTConfig gives the CLI its own client ID so it does not take over
// the daemon's session.
func cliMQTTConfig(cfg config.MQTTConfig) config.MQTTConfig {
	cfg.Broker.ClientID = fmt.Sprintf("%s-cli-%s", cfg.Broker.ClientID, uuid.NewString()[:8])
	return cfg
}

func newCommand(name string, enable *bool, now time.Time) control.CommandMessage {
	return control.CommandMessage{
		ID:        uuid.NewString(),
		Command:   name,
		Enable:    enable,
		Timestamp: now,
	}
}

// commandLabel renders cmd the way it was typed, e.g. "wake off".
func commandLabel(cmd control.CommandMessage) string {
	if cmd.Enable == nil {
		return cmd.Command
	}
	state := "off"
	if *cmd.Enable {
		state = "on"
	}
	return cmd.Command + " " + state
}

// sendCommand publishes cmd and waits for the acknowledgement carrying
// its ID.
func sendCommand(ctx context.Context, cfg config.MQTTConfig, portID string, cmd control.CommandMessage, timeout time.Duration) (control.AckMessage, error) {
	client, err := mqtt.Connect(ctx, cfg)
	if err != nil {
		return control.AckMessage{}, fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer client.Close() //nolint:errcheck // Best-effort disconnect

	var topics mqtt.Topics
	acks := make(chan control.AckMessage, 1)

	err = client.Subscribe(topics.Ack(portID), byte(cfg.QoS), func(_ string, payload []byte) error {
		var ack control.AckMessage
		if err := json.Unmarshal(payload, &ack); err != nil {
			return fmt.Errorf("decoding ack: %w", err)
		}
		if ack.CommandID != cmd.ID {
			return nil
		}
		select {
		case acks <- ack:
		default:
		}
		return nil
	})
	if err != nil {
		return control.AckMessage{}, fmt.Errorf("subscribing to acknowledgements: %w", err)
	}

	if err := client.PublishJSON(topics.Command(portID), cmd, false); err != nil {
		return control.AckMessage{}, fmt.Errorf("publishing command: %w", err)
	}

	select {
	case ack := <-acks:
		return ack, nil
	case <-ctx.Done():
		return control.AckMessage{}, ctx.Err()
	case <-time.After(timeout):
		return control.AckMessage{}, fmt.Errorf("no acknowledgement from %s within %v", portID, timeout)
	}
}

// ackResult converts a failed acknowledgement into an error.
func ackResult(ack control.AckMessage) error {
	if ack.Status == control.AckAccepted {
		return nil
	}
	if ack.Error == nil {
		return fmt.Errorf("%w: %s", errCommandFailed, ack.Status)
	}
	return fmt.Errorf("%w: %s: %s", errCommandFailed, ack.Error.Code, ack.Error.Message)
}
