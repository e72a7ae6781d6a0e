package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-usbrole/internal/history"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-usbrole/internal/usbrole"
)

// DefaultCommandTimeout bounds a single command.
const DefaultCommandTimeout = 5 * time.Second

// Port is the part of *usbrole.Port the service drives.
type Port interface {
	SetHostSensingEnabled(ctx context.Context, enable bool) error
	SetWakeSource(enable bool)
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	Status() usbrole.Status
}

// Broker is the part of the MQTT client the service needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any, retained bool) error
}

// Capabilities provides the current capability flags for status reports.
type Capabilities interface {
	Snapshot() map[usbrole.Capability]bool
}

// RoleRecorder persists role transitions.
type RoleRecorder interface {
	RecordRole(ctx context.Context, t history.RoleTransition) error
}

// RoleMetrics records role transitions as time series.
type RoleMetrics interface {
	WriteRoleTransition(portID, from, to string)
}

// Logger defines the logging interface used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Service.
type Options struct {
	// PortID names the port in topics and payloads. Required.
	PortID string

	// Broker carries commands, acknowledgements and reports. Required.
	Broker Broker

	// Capabilities is included in status reports. Optional.
	Capabilities Capabilities

	// History stores role transitions. Optional.
	History RoleRecorder

	// Metrics records role transitions. Optional.
	Metrics RoleMetrics

	// QoS for the command subscription. Default: 1
	QoS *byte

	// CommandTimeout bounds each command.
	// Default: DefaultCommandTimeout
	CommandTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// Service exposes a port over MQTT: it executes commands received on the
// port's command topic, acknowledges them, and reports role transitions
// and status.
type Service struct {
	portID  string
	broker  Broker
	caps    Capabilities
	history RoleRecorder
	metrics RoleMetrics
	qos     byte
	timeout time.Duration
	logger  Logger
	topics  mqtt.Topics
	now     func() time.Time

	mu        sync.Mutex
	port      Port
	suspended bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a service. Call Start once the port exists.
func New(opts Options) (*Service, error) {
	if opts.PortID == "" {
		return nil, fmt.Errorf("port id is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("MQTT broker is required")
	}

	qos := byte(1)
	if opts.QoS != nil {
		qos = *opts.QoS
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Service{
		portID:  opts.PortID,
		broker:  opts.Broker,
		caps:    opts.Capabilities,
		history: opts.History,
		metrics: opts.Metrics,
		qos:     qos,
		timeout: opts.CommandTimeout,
		logger:  opts.Logger,
		now:     time.Now,
	}, nil
}

// Start subscribes to the command topic and publishes an initial status.
func (s *Service) Start(ctx context.Context, port Port) error {
	if port == nil {
		return fmt.Errorf("port is required")
	}

	s.mu.Lock()
	if s.port != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.port = port
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	topic := s.topics.Command(s.portID)
	if err := s.broker.Subscribe(topic, s.qos, s.handleMessage); err != nil {
		s.mu.Lock()
		s.port = nil
		s.cancel()
		s.mu.Unlock()
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	s.logger.Info("subscribed to commands", "topic", topic)

	if err := s.PublishStatus(); err != nil {
		s.logger.Warn("publishing initial status failed", "error", err)
	}
	return nil
}

// Stop unsubscribes and cancels in-flight commands. Safe to call twice.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.port == nil {
		s.mu.Unlock()
		return
	}
	s.port = nil
	s.cancel()
	s.mu.Unlock()

	if err := s.broker.Unsubscribe(s.topics.Command(s.portID)); err != nil {
		s.logger.Warn("unsubscribing from commands failed", "error", err)
	}
	s.logger.Info("control service stopped")
}

// handleMessage is the command topic handler. Every parsed command gets
// an acknowledgement; only a failure to publish it is returned.
func (s *Service) handleMessage(_ string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return s.publishAck(CommandMessage{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err))
	}

	s.logger.Info("received command", "command_id", cmd.ID, "command", cmd.Command)

	err := s.Execute(cmd)
	if err != nil {
		s.logger.Warn("command failed", "command_id", cmd.ID, "command", cmd.Command, "error", err)
	}
	return s.publishAck(cmd, err)
}

// Execute runs cmd against the port. State-changing commands are followed
// by a status report.
func (s *Service) Execute(cmd CommandMessage) error {
	s.mu.Lock()
	port, base := s.port, s.ctx
	s.mu.Unlock()

	if port == nil {
		return ErrNotStarted
	}

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	var err error
	switch cmd.Command {
	case CommandOTG:
		if cmd.Enable == nil {
			return fmt.Errorf("%w: otg: %w", ErrInvalidCommand, errMissingEnable)
		}
		err = port.SetHostSensingEnabled(ctx, *cmd.Enable)
	case CommandWake:
		if cmd.Enable == nil {
			return fmt.Errorf("%w: wake: %w", ErrInvalidCommand, errMissingEnable)
		}
		port.SetWakeSource(*cmd.Enable)
	case CommandSuspend:
		if err = port.Suspend(ctx); err == nil {
			s.setSuspended(true)
		}
	case CommandResume:
		// The port evaluates after resume even on error.
		err = port.Resume(ctx)
		s.setSuspended(false)
	case CommandStatus:
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.Command)
	}

	if statusErr := s.PublishStatus(); statusErr != nil {
		s.logger.Warn("publishing status failed", "error", statusErr)
	}
	return err
}

func (s *Service) setSuspended(v bool) {
	s.mu.Lock()
	s.suspended = v
	s.mu.Unlock()
}

// PublishStatus publishes the retained status snapshot.
func (s *Service) PublishStatus() error {
	s.mu.Lock()
	port, suspended := s.port, s.suspended
	s.mu.Unlock()

	if port == nil {
		return ErrNotStarted
	}

	var caps map[usbrole.Capability]bool
	if s.caps != nil {
		caps = s.caps.Snapshot()
	}

	msg := newStatusMessage(s.portID, port.Status(), suspended, caps, s.now().UTC())
	return s.broker.PublishJSON(s.topics.PortStatus(s.portID), msg, true)
}

func (s *Service) publishAck(cmd CommandMessage, cmdErr error) error {
	ack := AckMessage{
		CommandID: cmd.ID,
		Command:   cmd.Command,
		PortID:    s.portID,
		Status:    AckAccepted,
		Timestamp: s.now().UTC(),
	}
	if cmdErr != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: errorCode(cmdErr), Message: cmdErr.Error()}
	}

	if err := s.broker.PublishJSON(s.topics.Ack(s.portID), ack, false); err != nil {
		return fmt.Errorf("publishing ack: %w", err)
	}
	return nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCommand):
		if errors.Is(err, errMissingEnable) {
			return ErrCodeInvalidParameters
		}
		return ErrCodeInvalidCommand
	case errors.Is(err, usbrole.ErrNoIDLine):
		return ErrCodeNotSupported
	case errors.Is(err, usbrole.ErrClosed), errors.Is(err, ErrNotStarted):
		return ErrCodePortClosed
	default:
		return ErrCodePortError
	}
}

// ReportRole records a role transition in history and metrics and
// publishes it on the port's role topic. Failures are logged.
func (s *Service) ReportRole(ctx context.Context, prev, next usbrole.Role) {
	t := history.RoleTransition{
		EventID: uuid.New(),
		PortID:  s.portID,
		From:    prev.String(),
		To:      next.String(),
		At:      s.now().UTC(),
	}

	if s.history != nil {
		if err := s.history.RecordRole(ctx, t); err != nil {
			s.logger.Warn("recording role transition failed", "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.WriteRoleTransition(t.PortID, t.From, t.To)
	}
	if err := s.broker.PublishJSON(s.topics.RoleEvent(s.portID), t, false); err != nil {
		s.logger.Warn("publishing role transition failed", "error", err)
	}

	s.logger.Info("role changed", "port_id", s.portID, "from", t.From, "to", t.To)
}
