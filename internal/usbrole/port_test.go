package usbrole

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNew_RequiresALine(t *testing.T) {
	_, err := New(context.Background(), Options{Publisher: newFakePublisher()})
	if !errors.Is(err, ErrNoSenseLines) {
		t.Errorf("New() error = %v, want %v", err, ErrNoSenseLines)
	}
}

func TestNew_RequiresPublisher(t *testing.T) {
	_, err := New(context.Background(), Options{VBUS: newFakeLine("vbus", false)})
	if !errors.Is(err, ErrNoPublisher) {
		t.Errorf("New() error = %v, want %v", err, ErrNoPublisher)
	}
}

func TestNew_InitialEvaluation(t *testing.T) {
	tests := []struct {
		name     string
		id       bool
		vbus     bool
		wantRole Role
		wantUSB  bool
	}{
		{name: "nothing connected", id: true, vbus: false, wantRole: RoleNone},
		{name: "powered by a host", id: true, vbus: true, wantRole: RolePeripheral, wantUSB: true},
		{name: "OTG adapter at boot stays none", id: false, vbus: false, wantRole: RoleNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, tt.id, tt.vbus)

			if got := rig.port.Role(); got != tt.wantRole {
				t.Errorf("Role() = %v, want %v", got, tt.wantRole)
			}
			if got := rig.pub.active(CapabilityUSB); got != tt.wantUSB {
				t.Errorf("USB active = %v, want %v", got, tt.wantUSB)
			}
			if rig.pub.active(CapabilityUSBHost) {
				t.Error("USB-HOST active after init, want inactive")
			}
			if got := rig.port.Evaluations(); got != 1 {
				t.Errorf("Evaluations() = %d, want 1", got)
			}
		})
	}
}

func TestNew_WiringAtInit(t *testing.T) {
	rig := newTestRig(t, true, false)

	if !rig.vbus.attached() {
		t.Error("VBUS interrupt not attached after New")
	}
	if rig.id.attached() {
		t.Error("ID interrupt attached after New, want detached until host sensing is enabled")
	}
	if got := rig.bias.history(); len(got) != 1 || got[0] != BiasPullDown {
		t.Errorf("bias history = %v, want [pull-down]", got)
	}
	if rig.port.HostSensingEnabled() {
		t.Error("HostSensingEnabled() = true after New")
	}
}

func TestNew_VBUSAttachFailure(t *testing.T) {
	vbus := newFakeLine("vbus", false)
	vbus.attachErr = errors.New("irq busy")
	pub := newFakePublisher()

	_, err := New(context.Background(), Options{VBUS: vbus, Publisher: pub})
	if !errors.Is(err, ErrAttachFailed) {
		t.Fatalf("New() error = %v, want %v", err, ErrAttachFailed)
	}
	if pub.callCount() != 0 {
		t.Errorf("publisher called %d times on failed init, want 0", pub.callCount())
	}
}

func TestNew_BiasFailure(t *testing.T) {
	bias := &fakeBias{err: map[Bias]error{BiasPullDown: errors.New("register write failed")}}

	_, err := New(context.Background(), Options{
		ID:        newFakeLine("id", true),
		VBUS:      newFakeLine("vbus", false),
		Bias:      bias,
		Publisher: newFakePublisher(),
	})
	if err == nil {
		t.Fatal("New() error = nil, want bias failure")
	}
}

func TestNew_SingleLine(t *testing.T) {
	t.Run("vbus only", func(t *testing.T) {
		vbus := newFakeLine("vbus", true)
		pub := newFakePublisher()

		port, err := New(context.Background(), Options{VBUS: vbus, Publisher: pub, Debounce: testDebounce})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer port.Close() //nolint:errcheck // Test cleanup

		if got := port.Role(); got != RolePeripheral {
			t.Errorf("Role() = %v, want %v", got, RolePeripheral)
		}
		if err := port.SetHostSensingEnabled(context.Background(), true); !errors.Is(err, ErrNoIDLine) {
			t.Errorf("SetHostSensingEnabled() error = %v, want %v", err, ErrNoIDLine)
		}
	})

	t.Run("id only", func(t *testing.T) {
		id := newFakeLine("id", true)
		pub := newFakePublisher()

		port, err := New(context.Background(), Options{ID: id, Publisher: pub, Debounce: testDebounce, BiasSettle: time.Millisecond})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer port.Close() //nolint:errcheck // Test cleanup

		if got := port.Role(); got != RoleNone {
			t.Errorf("Role() = %v, want %v", got, RoleNone)
		}

		// A stray VBUS trigger with no VBUS line is treated as forced.
		port.OnEdge(TriggerVBUS)
		waitFor(t, time.Second, "evaluation", func() bool { return port.Evaluations() == 2 })
		if got := port.Role(); got != RoleNone {
			t.Errorf("Role() = %v, want %v", got, RoleNone)
		}
	})
}

func TestNew_DebounceConfiguration(t *testing.T) {
	t.Run("hardware debounce", func(t *testing.T) {
		rig := newTestRig(t, true, false, func(o *Options) {
			o.ID.(*fakeLine).debounceErr = nil
			o.VBUS.(*fakeLine).debounceErr = nil
		})
		if got := rig.port.Status().Debounce; got != 0 {
			t.Errorf("software delay = %v, want 0", got)
		}
	})

	t.Run("one line without hardware debounce", func(t *testing.T) {
		rig := newTestRig(t, true, false, func(o *Options) {
			o.ID.(*fakeLine).debounceErr = nil
		})
		if got := rig.port.Status().Debounce; got != testDebounce {
			t.Errorf("software delay = %v, want %v", got, testDebounce)
		}
	})

	t.Run("default window", func(t *testing.T) {
		rig := newTestRig(t, true, false, func(o *Options) {
			o.Debounce = 0
		})
		if got := rig.port.Status().Debounce; got != DefaultDebounce {
			t.Errorf("software delay = %v, want %v", got, DefaultDebounce)
		}
	})
}

func TestPort_ReadErrorTreatedAsAbsent(t *testing.T) {
	rig := newTestRig(t, true, true, func(o *Options) {
		o.VBUS.(*fakeLine).readErr = errors.New("bus timeout")
	})

	if got := rig.port.Role(); got != RoleNone {
		t.Errorf("Role() = %v, want %v", got, RoleNone)
	}
	if rig.pub.active(CapabilityUSB) {
		t.Error("USB active although VBUS could not be read")
	}
}

func TestPort_EndToEnd(t *testing.T) {
	var mu sync.Mutex
	var transitions []Role

	rig := newTestRig(t, true, false, func(o *Options) {
		o.OnRoleChange = func(_, next Role) {
			mu.Lock()
			transitions = append(transitions, next)
			mu.Unlock()
		}
	})
	ctx := context.Background()

	if err := rig.port.SetHostSensingEnabled(ctx, true); err != nil {
		t.Fatalf("SetHostSensingEnabled() error = %v", err)
	}

	// Cable from a host: VBUS rises.
	rig.vbus.edge(true)
	rig.waitEvaluations(t, 2)

	if got := rig.port.Role(); got != RolePeripheral {
		t.Fatalf("after VBUS: Role() = %v, want %v", got, RolePeripheral)
	}
	if !rig.pub.active(CapabilityUSB) || rig.pub.active(CapabilityUSBHost) {
		t.Fatal("after VBUS: want USB active and USB-HOST inactive")
	}

	// OTG adapter plugged in: ID drops.
	rig.id.edge(false)
	rig.waitEvaluations(t, 3)

	if got := rig.port.Role(); got != RoleHost {
		t.Fatalf("after ID low: Role() = %v, want %v", got, RoleHost)
	}
	if rig.pub.active(CapabilityUSB) || !rig.pub.active(CapabilityUSBHost) {
		t.Fatal("after ID low: want USB inactive and USB-HOST active")
	}

	// Adapter removed: ID rises.
	rig.id.edge(true)
	rig.waitEvaluations(t, 4)

	if got := rig.port.Role(); got != RoleNone {
		t.Fatalf("after ID high: Role() = %v, want %v", got, RoleNone)
	}
	if rig.pub.active(CapabilityUSBHost) {
		t.Fatal("after ID high: USB-HOST still active")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Role{RolePeripheral, RoleHost, RoleNone}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestPort_BurstCoalesces(t *testing.T) {
	rig := newTestRig(t, true, false)

	for i := 0; i < 10; i++ {
		rig.vbus.edge(i%2 == 0)
	}
	rig.vbus.edge(true)

	rig.waitEvaluations(t, 2)
	time.Sleep(3 * testDebounce)

	if got := rig.port.Evaluations(); got != 2 {
		t.Errorf("Evaluations() = %d, want 2", got)
	}
	if !rig.pub.active(CapabilityUSB) {
		t.Error("USB inactive after burst settled high")
	}
}

func TestPort_LastTriggerWins(t *testing.T) {
	rig := newTestRig(t, true, true)
	if err := rig.port.SetHostSensingEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetHostSensingEnabled() error = %v", err)
	}

	// VBUS fires first, then ID inside the same window; only the ID branch runs.
	rig.vbus.set(true)
	rig.port.OnEdge(TriggerVBUS)
	rig.id.edge(false)

	rig.waitEvaluations(t, 2)

	if got := rig.port.Role(); got != RoleHost {
		t.Errorf("Role() = %v, want %v", got, RoleHost)
	}
	if rig.pub.active(CapabilityUSB) {
		t.Error("USB still active after ID claimed host")
	}
}

func TestPort_DebounceDelaysEvaluation(t *testing.T) {
	rig := newTestRig(t, true, false)

	rig.vbus.edge(true)
	time.Sleep(testDebounce / 4)
	if got := rig.port.Evaluations(); got != 1 {
		t.Errorf("Evaluations() = %d before the window elapsed, want 1", got)
	}
	if !rig.port.Status().PendingCheck {
		t.Error("PendingCheck = false inside the window")
	}

	rig.waitEvaluations(t, 2)
}

func TestPort_PublisherErrorStillMovesRole(t *testing.T) {
	rig := newTestRig(t, true, false)

	rig.pub.mu.Lock()
	rig.pub.setErr = errors.New("subscriber failed")
	rig.pub.mu.Unlock()

	rig.vbus.edge(true)
	rig.waitEvaluations(t, 2)

	if got := rig.port.Role(); got != RolePeripheral {
		t.Errorf("Role() = %v, want %v", got, RolePeripheral)
	}
	if got := rig.pub.lastCall(); got != (StateChange{Capability: CapabilityUSB, Active: true}) {
		t.Errorf("last call = %+v, want USB on", got)
	}
}

func TestPort_Close(t *testing.T) {
	rig := newTestRig(t, true, false)
	if err := rig.port.SetHostSensingEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetHostSensingEnabled() error = %v", err)
	}

	if err := rig.port.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if rig.vbus.attached() || rig.id.attached() {
		t.Error("interrupts still attached after Close")
	}
	if rig.port.HostSensingEnabled() {
		t.Error("HostSensingEnabled() = true after Close")
	}

	if err := rig.port.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	_, idDetaches := rig.id.counts()
	_, vbusDetaches := rig.vbus.counts()
	if idDetaches != 1 || vbusDetaches != 1 {
		t.Errorf("detaches id=%d vbus=%d, want 1 each", idDetaches, vbusDetaches)
	}

	// Late interrupts are ignored.
	rig.port.OnEdge(TriggerVBUS)
	time.Sleep(2 * testDebounce)
	if got := rig.port.Evaluations(); got != 1 {
		t.Errorf("Evaluations() = %d after Close, want 1", got)
	}

	ctx := context.Background()
	if err := rig.port.SetHostSensingEnabled(ctx, true); !errors.Is(err, ErrClosed) {
		t.Errorf("SetHostSensingEnabled() after Close error = %v, want %v", err, ErrClosed)
	}
	if err := rig.port.Suspend(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Suspend() after Close error = %v, want %v", err, ErrClosed)
	}
	if err := rig.port.Resume(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Resume() after Close error = %v, want %v", err, ErrClosed)
	}
}

func TestPort_CloseCancelsPending(t *testing.T) {
	rig := newTestRig(t, true, false)

	rig.vbus.edge(true)
	if err := rig.port.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	time.Sleep(3 * testDebounce)
	if got := rig.port.Evaluations(); got != 1 {
		t.Errorf("Evaluations() = %d, want 1", got)
	}
	if rig.pub.active(CapabilityUSB) {
		t.Error("USB active: a cancelled evaluation ran")
	}
}

func TestPort_CloseWaitsForRunningEvaluation(t *testing.T) {
	rig := newTestRig(t, true, false)

	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	rig.vbus.mu.Lock()
	rig.vbus.readGate = gate
	rig.vbus.readStarted = started
	rig.vbus.mu.Unlock()

	rig.vbus.edge(true)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("evaluation did not start")
	}

	closed := make(chan error, 1)
	go func() { closed <- rig.port.Close() }()

	select {
	case <-closed:
		t.Fatal("Close() returned while an evaluation was reading the lines")
	case <-time.After(3 * testDebounce):
	}

	close(gate)

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close() did not return after the evaluation finished")
	}

	if got := rig.port.Evaluations(); got != 2 {
		t.Errorf("Evaluations() = %d, want 2", got)
	}
}

func TestPort_CloseDisarmsWake(t *testing.T) {
	rig := newTestRig(t, true, false, func(o *Options) { o.WakeSource = true })

	if err := rig.port.Suspend(context.Background()); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	if err := rig.port.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if wake, _ := rig.vbus.wakeState(); wake {
		t.Error("VBUS still armed for wake after Close")
	}
	if rig.port.Status().WakeSource {
		t.Error("WakeSource = true after Close")
	}
}
