package usbrole

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultDebounce is the quiet period used when the lines cannot
	// debounce in hardware.
	DefaultDebounce = 20 * time.Millisecond

	// DefaultBiasSettle is how long the ID line is given after being
	// pulled up before its interrupt is attached.
	DefaultBiasSettle = 100 * time.Millisecond
)

// Options configures a Port.
type Options struct {
	// ID is the host-claim line. Optional if VBUS is set.
	ID SenseLine

	// VBUS is the bus power line. Optional if ID is set.
	VBUS SenseLine

	// Bias drives the ID line's pull. Optional; nil skips biasing.
	Bias BiasController

	// Publisher receives capability changes. Required.
	Publisher Publisher

	// PinStates switches line configuration around suspend when the port
	// is not a wake source. Optional.
	PinStates PinStates

	// Debounce is the hardware debounce window and the software quiet
	// period used when hardware debouncing is unavailable.
	// Default: DefaultDebounce
	Debounce time.Duration

	// BiasSettle is the wait between pulling ID up and attaching its interrupt.
	// Default: DefaultBiasSettle
	BiasSettle time.Duration

	// WakeSource marks the port as allowed to wake the system.
	WakeSource bool

	// OnRoleChange is called after the detector moves to a new role.
	// It runs with the evaluation lock held and must not call back into the port.
	OnRoleChange func(prev, next Role)

	// Logger is optional.
	Logger Logger
}

// Port owns the detection state for one USB connector.
type Port struct {
	id     SenseLine
	vbus   SenseLine
	bias   BiasController
	pub    Publisher
	pins   PinStates
	logger Logger

	onRoleChange func(prev, next Role)

	debounce time.Duration // software quiet period; zero when lines debounce in hardware
	settle   time.Duration

	sched *scheduler

	// evalMu serialises evaluations with direct publisher writes made
	// outside them (host sensing disable).
	evalMu      sync.Mutex
	role        Role
	evaluations atomic.Int64

	trigMu  sync.Mutex
	trigger Trigger

	otgMu       sync.Mutex
	hostSensing bool // ID interrupt attached

	pmMu         sync.Mutex
	wakeSource   bool
	armed        []SenseLine // armed by Suspend
	pinsSleeping bool        // sleep pin state selected by Suspend

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New wires the lines, attaches the VBUS interrupt and runs one evaluation
// so the published state is current when it returns.
//
// The ID interrupt stays detached until SetHostSensingEnabled(true).
func New(ctx context.Context, opts Options) (*Port, error) {
	if opts.ID == nil && opts.VBUS == nil {
		return nil, ErrNoSenseLines
	}
	if opts.Publisher == nil {
		return nil, ErrNoPublisher
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.BiasSettle <= 0 {
		opts.BiasSettle = DefaultBiasSettle
	}
	if opts.Bias == nil {
		opts.Bias = noopBias{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	portCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p := &Port{
		id:           opts.ID,
		vbus:         opts.VBUS,
		bias:         opts.Bias,
		pub:          opts.Publisher,
		pins:         opts.PinStates,
		logger:       opts.Logger,
		onRoleChange: opts.OnRoleChange,
		settle:       opts.BiasSettle,
		wakeSource:   opts.WakeSource,
		role:         RoleNone,
		ctx:          portCtx,
		cancel:       cancel,
	}

	p.debounce = p.configureDebounce(opts.Debounce)
	p.sched = newScheduler(func() { p.evaluate(p.ctx) })

	if p.id != nil {
		if err := p.bias.SetBias(ctx, BiasPullDown); err != nil {
			p.teardown()
			return nil, fmt.Errorf("biasing ID line: %w", err)
		}
	}

	if p.vbus != nil {
		if err := p.vbus.Attach(p.onVBUSEdge); err != nil {
			p.teardown()
			return nil, fmt.Errorf("%w: %s: %w", ErrAttachFailed, p.vbus.Name(), err)
		}
	}

	role := p.evaluate(ctx)
	p.logger.Info("usb port ready",
		"role", role.String(),
		"id_line", p.id != nil,
		"vbus_line", p.vbus != nil,
		"debounce", p.debounce,
		"wake_source", opts.WakeSource,
	)

	return p, nil
}

// configureDebounce asks each line to debounce in hardware. If any line
// refuses, evaluations are delayed by window in software instead.
func (p *Port) configureDebounce(window time.Duration) time.Duration {
	for _, line := range p.lines() {
		if err := line.SetDebounce(window); err != nil {
			p.logger.Warn("hardware debounce unavailable, using software delay",
				"line", line.Name(),
				"delay", window,
				"error", err,
			)
			return window
		}
	}
	return 0
}

func (p *Port) lines() []SenseLine {
	lines := make([]SenseLine, 0, 2)
	if p.id != nil {
		lines = append(lines, p.id)
	}
	if p.vbus != nil {
		lines = append(lines, p.vbus)
	}
	return lines
}

// Role returns the role decided by the last evaluation.
func (p *Port) Role() Role {
	p.evalMu.Lock()
	defer p.evalMu.Unlock()
	return p.role
}

// Evaluations returns how many evaluations have completed.
func (p *Port) Evaluations() int64 {
	return p.evaluations.Load()
}

// Status returns a snapshot of the port.
func (p *Port) Status() Status {
	p.otgMu.Lock()
	hostSensing := p.hostSensing
	p.otgMu.Unlock()

	p.pmMu.Lock()
	wakeSource := p.wakeSource
	armed := len(p.armed)
	p.pmMu.Unlock()

	return Status{
		Role:         p.Role(),
		HostSensing:  hostSensing,
		IDPresent:    p.id != nil,
		VBUSPresent:  p.vbus != nil,
		WakeSource:   wakeSource,
		WakeArmed:    armed,
		Debounce:     p.debounce,
		PendingCheck: p.sched.pending(),
	}
}

// Close detaches the interrupts, cancels any pending evaluation, waits for
// a running one, disarms wake sources and leaves the sleep pin state. Calling Close again is a no-op.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error

	if p.vbus != nil {
		if err := p.vbus.Detach(); err != nil {
			errs = append(errs, fmt.Errorf("detaching %s: %w", p.vbus.Name(), err))
		}
	}

	p.otgMu.Lock()
	if p.hostSensing {
		if err := p.id.Detach(); err != nil {
			errs = append(errs, fmt.Errorf("detaching %s: %w", p.id.Name(), err))
		}
		p.hostSensing = false
	}
	p.otgMu.Unlock()

	p.teardown()

	p.pmMu.Lock()
	if err := p.resumeLines(); err != nil {
		errs = append(errs, err)
	}
	p.armed = nil
	p.pinsSleeping = false
	p.wakeSource = false
	p.pmMu.Unlock()

	p.logger.Info("usb port closed")
	return errors.Join(errs...)
}

func (p *Port) teardown() {
	p.closed.Store(true)
	p.sched.stop()
	p.cancel()
}
