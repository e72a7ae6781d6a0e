package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/mqtt"
)

// WatchCmd prints daemon traffic from the broker as it arrives.
type WatchCmd struct {
	Only  string `enum:"all,capability,role" default:"all" help:"Limit output to capability states or role transitions."`
	Count int    `help:"Exit after this many messages. 0 runs until interrupted."`
}

type watchMessage struct {
	topic   string
	payload []byte
}

// Run subscribes to every port's topics and writes one line per message.
func (c *WatchCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.MQTT.Enabled {
		return fmt.Errorf("mqtt is disabled in %s", g.Config)
	}

	mqttCfg := cliMQTTConfig(cfg.MQTT)
	client, err := mqtt.Connect(ctx, mqttCfg)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer client.Close() //nolint:errcheck // Best-effort disconnect

	client.SetOnDisconnect(func(err error) {
		fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
	})
	client.SetOnConnect(func() {
		fmt.Fprintln(os.Stderr, "reconnected")
	})

	msgs := make(chan watchMessage, 16)
	err = client.Subscribe(watchTopic(c.Only), byte(mqttCfg.QoS), func(topic string, payload []byte) error {
		select {
		case msgs <- watchMessage{topic: topic, payload: payload}:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	for seen := 0; c.Count == 0 || seen < c.Count; seen++ {
		select {
		case <-ctx.Done():
			return nil
		case m := <-msgs:
			printWatchLine(os.Stdout, time.Now(), m)
		}
	}
	return nil
}

// watchTopic maps --only to a subscription filter.
func watchTopic(only string) string {
	var topics mqtt.Topics
	switch only {
	case "capability":
		return topics.AllCapabilityStates()
	case "role":
		return topics.AllRoleEvents()
	default:
		return topics.AllTopics()
	}
}

// printWatchLine writes "time topic payload". JSON payloads are compacted
// onto one line; an empty payload is a cleared retained message.
func printWatchLine(w io.Writer, at time.Time, m watchMessage) {
	payload := string(m.payload)
	switch {
	case len(m.payload) == 0:
		payload = "(cleared)"
	case json.Valid(m.payload):
		var buf bytes.Buffer
		if err := json.Compact(&buf, m.payload); err == nil {
			payload = buf.String()
		}
	}
	fmt.Fprintf(w, "%s  %s  %s\n", at.Local().Format("15:04:05.000"), m.topic, payload)
}
