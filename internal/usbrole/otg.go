package usbrole

import (
	"context"
	"fmt"
	"time"
)

// SetHostSensingEnabled attaches or detaches the ID interrupt so an OTG
// adapter can (or can no longer) switch the port into host mode.
//
// Enabling pulls ID up, waits for the line to settle and attaches the
// interrupt; if attaching fails the pull-down is restored and an error
// wrapping ErrAttachFailed is returned. Disabling detaches the interrupt,
// clears Host immediately if ID no longer claims host, and pulls ID down.
// Requests matching the current state are no-ops.
func (p *Port) SetHostSensingEnabled(ctx context.Context, enable bool) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.id == nil {
		return ErrNoIDLine
	}

	p.otgMu.Lock()
	defer p.otgMu.Unlock()

	// Close may have run while waiting for the lock.
	if p.closed.Load() {
		return ErrClosed
	}

	if enable {
		return p.enableHostSensing(ctx)
	}
	return p.disableHostSensing(ctx)
}

// HostSensingEnabled reports whether the ID interrupt is attached.
func (p *Port) HostSensingEnabled() bool {
	p.otgMu.Lock()
	defer p.otgMu.Unlock()
	return p.hostSensing
}

func (p *Port) enableHostSensing(ctx context.Context) error {
	if p.hostSensing {
		p.logger.Info("host sensing already enabled")
		return nil
	}

	if err := p.bias.SetBias(ctx, BiasPullUp); err != nil {
		p.restoreBias(ctx)
		return fmt.Errorf("biasing ID line up: %w", err)
	}

	if err := sleepContext(ctx, p.settle); err != nil {
		p.restoreBias(ctx)
		return fmt.Errorf("waiting for ID line to settle: %w", err)
	}

	if err := p.id.Attach(p.onIDEdge); err != nil {
		p.restoreBias(ctx)
		return fmt.Errorf("%w: %s: %w", ErrAttachFailed, p.id.Name(), err)
	}

	p.hostSensing = true
	p.logger.Info("host sensing enabled")
	return nil
}

func (p *Port) disableHostSensing(ctx context.Context) error {
	if !p.hostSensing {
		p.logger.Info("host sensing already disabled")
		return nil
	}

	// Cleared before detaching so nothing sees the flag while the
	// interrupt is being torn down.
	p.hostSensing = false

	if err := p.id.Detach(); err != nil {
		p.logger.Warn("detaching ID interrupt failed", "line", p.id.Name(), "error", err)
	}

	p.releaseHostClaim(ctx)

	if err := p.bias.SetBias(ctx, BiasPullDown); err != nil {
		return fmt.Errorf("biasing ID line down: %w", err)
	}

	p.logger.Info("host sensing disabled")
	return nil
}

// releaseHostClaim clears Host when ID reads high. With the interrupt gone
// no debounced evaluation would clear it. If ID still claims host the flag
// is left as is.
func (p *Port) releaseHostClaim(ctx context.Context) {
	p.evalMu.Lock()
	defer p.evalMu.Unlock()

	asserted, err := p.id.Read(ctx)
	if err != nil {
		p.logger.Warn("reading ID line failed", "line", p.id.Name(), "error", err)
		return
	}
	if asserted {
		p.publish(ctx, CapabilityUSBHost, false)
	}
}

func (p *Port) restoreBias(ctx context.Context) {
	if err := p.bias.SetBias(context.WithoutCancel(ctx), BiasPullDown); err != nil {
		p.logger.Error("restoring ID pull-down failed", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
