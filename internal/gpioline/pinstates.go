package gpioline

import (
	"errors"
	"fmt"
)

// PinStates switches a set of lines between their normal and sleep
// configuration. It implements usbrole.PinStates.
type PinStates struct {
	lines []*Line
}

// NewPinStates groups lines. Nil lines are skipped.
func NewPinStates(lines ...*Line) *PinStates {
	ps := &PinStates{}
	for _, l := range lines {
		if l != nil {
			ps.lines = append(ps.lines, l)
		}
	}
	return ps
}

// SelectSleep floats every line. If one fails the others are restored.
func (ps *PinStates) SelectSleep() error {
	for i, l := range ps.lines {
		if err := l.sleep(); err != nil {
			for _, prev := range ps.lines[:i] {
				_ = prev.wake() //nolint:errcheck // Best effort rollback
			}
			return fmt.Errorf("selecting sleep state: %w", err)
		}
	}
	return nil
}

// SelectDefault restores every line, attempting all of them.
func (ps *PinStates) SelectDefault() error {
	var errs []error
	for _, l := range ps.lines {
		if err := l.wake(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("selecting default state: %w", err)
	}
	return nil
}
