package usbrole

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestSetHostSensingEnabled_EnableTwice(t *testing.T) {
	rig := newTestRig(t, true, false)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := rig.port.SetHostSensingEnabled(ctx, true); err != nil {
			t.Fatalf("SetHostSensingEnabled(true) #%d error = %v", i+1, err)
		}
	}

	want := []Bias{BiasPullDown, BiasPullUp}
	if got := rig.bias.history(); !reflect.DeepEqual(got, want) {
		t.Errorf("bias history = %v, want %v", got, want)
	}
	if attaches, _ := rig.id.counts(); attaches != 1 {
		t.Errorf("ID attaches = %d, want 1", attaches)
	}
	if !rig.port.HostSensingEnabled() {
		t.Error("HostSensingEnabled() = false")
	}
}

func TestSetHostSensingEnabled_AttachFailureRollsBack(t *testing.T) {
	rig := newTestRig(t, true, false, func(o *Options) {
		o.ID.(*fakeLine).attachErr = errors.New("irq unavailable")
	})

	err := rig.port.SetHostSensingEnabled(context.Background(), true)
	if !errors.Is(err, ErrAttachFailed) {
		t.Fatalf("SetHostSensingEnabled(true) error = %v, want %v", err, ErrAttachFailed)
	}

	want := []Bias{BiasPullDown, BiasPullUp, BiasPullDown}
	if got := rig.bias.history(); !reflect.DeepEqual(got, want) {
		t.Errorf("bias history = %v, want %v", got, want)
	}
	if rig.port.HostSensingEnabled() {
		t.Error("HostSensingEnabled() = true after failed attach")
	}
}

func TestSetHostSensingEnabled_BiasFailure(t *testing.T) {
	rig := newTestRig(t, true, false)
	rig.bias.mu.Lock()
	rig.bias.err = map[Bias]error{BiasPullUp: errors.New("register write failed")}
	rig.bias.mu.Unlock()

	if err := rig.port.SetHostSensingEnabled(context.Background(), true); err == nil {
		t.Fatal("SetHostSensingEnabled(true) error = nil, want bias failure")
	}
	if attaches, _ := rig.id.counts(); attaches != 0 {
		t.Errorf("ID attaches = %d, want 0", attaches)
	}
	if rig.port.HostSensingEnabled() {
		t.Error("HostSensingEnabled() = true after bias failure")
	}

	// The pull-down is restored after a failed pull-up.
	want := []Bias{BiasPullDown, BiasPullUp, BiasPullDown}
	if got := rig.bias.history(); !reflect.DeepEqual(got, want) {
		t.Errorf("bias history = %v, want %v", got, want)
	}
}

func TestSetHostSensingEnabled_RacesClose(t *testing.T) {
	rig := newTestRig(t, true, false)

	// Hold the OTG lock so the enable call parks after its first closed check.
	rig.port.otgMu.Lock()

	enableErr := make(chan error, 1)
	go func() {
		enableErr <- rig.port.SetHostSensingEnabled(context.Background(), true)
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() {
		closed <- rig.port.Close()
	}()
	waitFor(t, time.Second, "Close to mark the port closed", rig.port.closed.Load)

	rig.port.otgMu.Unlock()

	select {
	case err := <-enableErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("SetHostSensingEnabled() error = %v, want %v", err, ErrClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("SetHostSensingEnabled() did not return")
	}
	if err := <-closed; err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if attaches, _ := rig.id.counts(); attaches != 0 {
		t.Errorf("ID attaches = %d, want 0 on a closed port", attaches)
	}
	for _, b := range rig.bias.history() {
		if b == BiasPullUp {
			t.Error("ID pulled up on a closed port")
		}
	}
}

func TestSetHostSensingEnabled_CancelledDuringSettle(t *testing.T) {
	rig := newTestRig(t, true, false, func(o *Options) {
		o.BiasSettle = time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rig.port.SetHostSensingEnabled(ctx, true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("SetHostSensingEnabled(true) error = %v, want %v", err, context.Canceled)
	}

	want := []Bias{BiasPullDown, BiasPullUp, BiasPullDown}
	if got := rig.bias.history(); !reflect.DeepEqual(got, want) {
		t.Errorf("bias history = %v, want %v", got, want)
	}
	if rig.id.attached() {
		t.Error("ID interrupt attached after cancelled enable")
	}
}

func TestSetHostSensingEnabled_DisableClearsHost(t *testing.T) {
	rig := newTestRig(t, true, false)
	ctx := context.Background()

	if err := rig.port.SetHostSensingEnabled(ctx, true); err != nil {
		t.Fatalf("SetHostSensingEnabled(true) error = %v", err)
	}
	rig.id.edge(false)
	rig.waitEvaluations(t, 2)
	if !rig.pub.active(CapabilityUSBHost) {
		t.Fatal("USB-HOST inactive after ID claimed host")
	}

	// Adapter removed without an interrupt reaching the port.
	rig.id.set(true)

	if err := rig.port.SetHostSensingEnabled(ctx, false); err != nil {
		t.Fatalf("SetHostSensingEnabled(false) error = %v", err)
	}

	// No waiting: the deactivation is synchronous.
	if rig.pub.active(CapabilityUSBHost) {
		t.Error("USB-HOST still active right after disable")
	}
	if rig.id.attached() {
		t.Error("ID interrupt still attached after disable")
	}

	want := []Bias{BiasPullDown, BiasPullUp, BiasPullDown}
	if got := rig.bias.history(); !reflect.DeepEqual(got, want) {
		t.Errorf("bias history = %v, want %v", got, want)
	}
}

func TestSetHostSensingEnabled_DisableWhileHostClaimed(t *testing.T) {
	rig := newTestRig(t, true, false)
	ctx := context.Background()

	if err := rig.port.SetHostSensingEnabled(ctx, true); err != nil {
		t.Fatalf("SetHostSensingEnabled(true) error = %v", err)
	}
	rig.id.edge(false)
	rig.waitEvaluations(t, 2)

	calls := rig.pub.callCount()
	if err := rig.port.SetHostSensingEnabled(ctx, false); err != nil {
		t.Fatalf("SetHostSensingEnabled(false) error = %v", err)
	}

	// ID still claims host, so the flag is left for a later trigger.
	if !rig.pub.active(CapabilityUSBHost) {
		t.Error("USB-HOST cleared although ID still claims host")
	}
	if got := rig.pub.callCount(); got != calls {
		t.Errorf("publisher calls = %d, want %d", got, calls)
	}
}

func TestSetHostSensingEnabled_DisableTwice(t *testing.T) {
	rig := newTestRig(t, true, false)
	ctx := context.Background()

	if err := rig.port.SetHostSensingEnabled(ctx, true); err != nil {
		t.Fatalf("SetHostSensingEnabled(true) error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := rig.port.SetHostSensingEnabled(ctx, false); err != nil {
			t.Fatalf("SetHostSensingEnabled(false) #%d error = %v", i+1, err)
		}
	}

	if _, detaches := rig.id.counts(); detaches != 1 {
		t.Errorf("ID detaches = %d, want 1", detaches)
	}
}

func TestSetHostSensingEnabled_DisableWhenNeverEnabled(t *testing.T) {
	rig := newTestRig(t, true, false)

	if err := rig.port.SetHostSensingEnabled(context.Background(), false); err != nil {
		t.Fatalf("SetHostSensingEnabled(false) error = %v", err)
	}
	if _, detaches := rig.id.counts(); detaches != 0 {
		t.Errorf("ID detaches = %d, want 0", detaches)
	}
	if got := rig.bias.history(); len(got) != 1 {
		t.Errorf("bias history = %v, want only the init pull-down", got)
	}
}

func TestSetHostSensingEnabled_EdgesIgnoredWhenDisabled(t *testing.T) {
	rig := newTestRig(t, true, false)

	rig.id.edge(false)
	time.Sleep(3 * testDebounce)

	if got := rig.port.Evaluations(); got != 1 {
		t.Errorf("Evaluations() = %d, want 1", got)
	}
	if rig.pub.active(CapabilityUSBHost) {
		t.Error("USB-HOST active without host sensing")
	}
}
