package usbrole

import (
	"context"
	"errors"
	"fmt"
)

// Suspend prepares the port for system sleep.
//
// As a wake source every attached line is armed; if one fails the lines
// armed before it are disarmed again and the error is returned. Otherwise
// the lines are switched to their sleep configuration. Resume undoes
// whichever of the two was done here.
func (p *Port) Suspend(_ context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.pmMu.Lock()
	defer p.pmMu.Unlock()

	if !p.wakeSource {
		if p.pins != nil {
			if err := p.pins.SelectSleep(); err != nil {
				return fmt.Errorf("%w: sleep: %w", ErrPinState, err)
			}
			p.pinsSleeping = true
		}
		p.logger.Debug("port suspended", "wake_source", false)
		return nil
	}

	armed, err := setWake(p.attachedLines(), true)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWakeArm, err)
	}
	p.armed = armed

	p.logger.Debug("port suspended", "wake_source", true, "armed", len(armed))
	return nil
}

// Resume undoes Suspend and schedules an immediate evaluation to pick up
// anything that changed while asleep. The evaluation is scheduled even when
// restoring the lines fails.
func (p *Port) Resume(_ context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.pmMu.Lock()
	err := p.resumeLines()
	p.pmMu.Unlock()

	p.sched.schedule(0)

	p.logger.Debug("port resumed", "error", err)
	return err
}

// resumeLines reverts what Suspend recorded, independent of the current
// wake source setting. Callers hold pmMu.
func (p *Port) resumeLines() error {
	var errs []error

	if p.pinsSleeping {
		if err := p.pins.SelectDefault(); err != nil {
			errs = append(errs, fmt.Errorf("%w: default: %w", ErrPinState, err))
		} else {
			p.pinsSleeping = false
		}
	}

	if len(p.armed) > 0 {
		if _, err := setWake(p.armed, false); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrWakeArm, err))
		} else {
			p.armed = nil
		}
	}

	return errors.Join(errs...)
}

// SetWakeSource changes whether the port may wake the system. It takes
// effect at the next Suspend.
func (p *Port) SetWakeSource(enable bool) {
	p.pmMu.Lock()
	defer p.pmMu.Unlock()
	p.wakeSource = enable
}

// attachedLines lists the lines with a live interrupt, ID first.
func (p *Port) attachedLines() []SenseLine {
	lines := make([]SenseLine, 0, 2)

	p.otgMu.Lock()
	if p.id != nil && p.hostSensing {
		lines = append(lines, p.id)
	}
	p.otgMu.Unlock()

	if p.vbus != nil {
		lines = append(lines, p.vbus)
	}
	return lines
}

// setWake applies enable to each line in order. On failure the lines
// already changed are flipped back, leaving all of them as they were.
func setWake(lines []SenseLine, enable bool) ([]SenseLine, error) {
	done := make([]SenseLine, 0, len(lines))

	for _, line := range lines {
		if err := line.SetWake(enable); err != nil {
			for _, prev := range done {
				_ = prev.SetWake(!enable) //nolint:errcheck // Best effort rollback
			}
			return nil, fmt.Errorf("%s: %w", line.Name(), err)
		}
		done = append(done, line)
	}

	return done, nil
}
