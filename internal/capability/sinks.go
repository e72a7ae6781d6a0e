package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/mqtt"
)

// StatePublisher is the part of the MQTT client the MQTT sink needs.
type StatePublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MQTTSink publishes each change as retained JSON on the capability's
// state topic, so late subscribers see the current value.
type MQTTSink struct {
	client StatePublisher
	topics mqtt.Topics
}

// NewMQTTSink creates a sink publishing through client.
func NewMQTTSink(client StatePublisher) *MQTTSink {
	return &MQTTSink{client: client}
}

// HandleChange publishes change.
func (s *MQTTSink) HandleChange(_ context.Context, change Change) error {
	topic := s.topics.CapabilityState(change.PortID, string(change.Capability))
	if err := s.client.PublishJSON(topic, change, true); err != nil {
		return fmt.Errorf("publishing capability state: %w", err)
	}
	return nil
}

// MetricsWriter is the part of the InfluxDB client the metrics sink needs.
type MetricsWriter interface {
	WriteCapabilityChangeAt(portID, capability string, active bool, at time.Time)
}

// MetricsSink records each change as a time-series point. Writes are
// batched by the client, so it never fails.
type MetricsSink struct {
	writer MetricsWriter
}

// NewMetricsSink creates a sink writing through writer.
func NewMetricsSink(writer MetricsWriter) *MetricsSink {
	return &MetricsSink{writer: writer}
}

// HandleChange writes change.
func (s *MetricsSink) HandleChange(_ context.Context, change Change) error {
	s.writer.WriteCapabilityChangeAt(change.PortID, string(change.Capability), change.Active, change.At)
	return nil
}
