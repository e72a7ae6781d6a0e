package gpioline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/nerrad567/gray-logic-usbrole/internal/usbrole"
)

// DefaultPollInterval bounds how long the edge watcher blocks in
// WaitForEdge before checking for Detach.
const DefaultPollInterval = 50 * time.Millisecond

const (
	wakeEnabled  = "enabled"
	wakeDisabled = "disabled"
)

// Line is a sense line backed by a periph GPIO input.
//
// It implements usbrole.SenseLine and usbrole.BiasController. Pull changes
// keep the current edge mode, and attaching keeps the current pull.
type Line struct {
	name       string
	pin        gpio.PinIn
	wakeupPath string
	poll       time.Duration

	mu   sync.Mutex
	pull gpio.Pull
	edge gpio.Edge
	stop chan struct{}
	done chan struct{}

	sleeping  bool
	savedPull gpio.Pull
	savedEdge gpio.Edge
}

// New wraps pin. wakeupPath is the sysfs power/wakeup attribute of the
// pin's interrupt; empty means the line cannot wake the system.
func New(name string, pin gpio.PinIn, wakeupPath string) *Line {
	return &Line{
		name:       name,
		pin:        pin,
		wakeupPath: wakeupPath,
		poll:       DefaultPollInterval,
		pull:       gpio.PullNoChange,
		edge:       gpio.NoEdge,
	}
}

// Open resolves pinName through the periph registry. host.Init must have
// been called first.
func Open(name, pinName, wakeupPath string) (*Line, error) {
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, pinName)
	}
	return New(name, pin, wakeupPath), nil
}

// SetPollInterval changes how often the watcher checks for Detach.
func (l *Line) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.poll = d
	l.mu.Unlock()
}

// Name returns the line name.
func (l *Line) Name() string {
	return l.name
}

// Read samples the pin. High is asserted.
func (l *Line) Read(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return l.pin.Read() == gpio.High, nil
}

// SetDebounce always fails; see ErrDebounceUnsupported.
func (l *Line) SetDebounce(window time.Duration) error {
	return fmt.Errorf("%s: %w (window %v)", l.name, ErrDebounceUnsupported, window)
}

// Attach enables both-edge detection and starts the watcher goroutine.
func (l *Line) Attach(onEdge func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stop != nil {
		return fmt.Errorf("%s: %w", l.name, ErrAlreadyAttached)
	}

	if l.sleeping {
		l.savedEdge = gpio.BothEdges
	} else {
		if err := l.pin.In(l.pull, gpio.BothEdges); err != nil {
			return fmt.Errorf("%s: enabling edge detection: %w", l.name, err)
		}
		l.edge = gpio.BothEdges
	}

	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.watch(onEdge, l.poll, l.stop, l.done)

	return nil
}

func (l *Line) watch(onEdge func(), poll time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		if !l.pin.WaitForEdge(poll) {
			continue
		}

		select {
		case <-stop:
			return
		default:
			onEdge()
		}
	}
}

// Detach disables edge detection and waits for the watcher to exit.
func (l *Line) Detach() error {
	l.mu.Lock()
	if l.stop == nil {
		l.mu.Unlock()
		return nil
	}

	close(l.stop)
	done := l.done
	l.stop, l.done = nil, nil

	var err error
	if l.sleeping {
		l.savedEdge = gpio.NoEdge
	} else {
		err = l.pin.In(l.pull, gpio.NoEdge)
		l.edge = gpio.NoEdge
	}
	l.mu.Unlock()

	<-done

	if err != nil {
		return fmt.Errorf("%s: disabling edge detection: %w", l.name, err)
	}
	return nil
}

// Attached reports whether the edge watcher is running.
func (l *Line) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop != nil
}

// SetWake writes the sysfs wakeup attribute.
func (l *Line) SetWake(enable bool) error {
	if l.wakeupPath == "" {
		return fmt.Errorf("%s: %w", l.name, ErrWakeUnsupported)
	}

	value := wakeDisabled
	if enable {
		value = wakeEnabled
	}

	// The attribute must already exist; sysfs files are never created.
	f, err := os.OpenFile(l.wakeupPath, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("%s: opening wakeup attribute: %w", l.name, err)
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close() //nolint:errcheck // Write error takes precedence
		return fmt.Errorf("%s: writing wakeup attribute: %w", l.name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%s: writing wakeup attribute: %w", l.name, err)
	}
	return nil
}

// SetBias switches the pin's pull resistor.
func (l *Line) SetBias(ctx context.Context, bias usbrole.Bias) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pull := gpio.PullDown
	if bias == usbrole.BiasPullUp {
		pull = gpio.PullUp
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sleeping {
		// Applied when the line leaves its sleep configuration.
		l.savedPull = pull
		return nil
	}

	if err := l.pin.In(pull, l.edge); err != nil {
		return fmt.Errorf("%s: setting %s: %w", l.name, bias, err)
	}
	l.pull = pull
	return nil
}

// sleep floats the pin and disables edge detection, remembering the
// previous configuration.
func (l *Line) sleep() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sleeping {
		return nil
	}
	if err := l.pin.In(gpio.Float, gpio.NoEdge); err != nil {
		return fmt.Errorf("%s: sleep configuration: %w", l.name, err)
	}
	l.savedPull, l.savedEdge = l.pull, l.edge
	l.sleeping = true
	return nil
}

// wake restores the configuration saved by sleep.
func (l *Line) wake() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.sleeping {
		return nil
	}
	if err := l.pin.In(l.savedPull, l.savedEdge); err != nil {
		return fmt.Errorf("%s: default configuration: %w", l.name, err)
	}
	l.pull, l.edge = l.savedPull, l.savedEdge
	l.sleeping = false
	return nil
}
