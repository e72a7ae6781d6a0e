package gpioline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/nerrad567/gray-logic-usbrole/internal/usbrole"
)

// Compile-time interface checks.
var (
	_ usbrole.SenseLine      = (*Line)(nil)
	_ usbrole.BiasController = (*Line)(nil)
	_ usbrole.PinStates      = (*PinStates)(nil)
)

func newTestLine(t *testing.T, level gpio.Level) (*Line, *gpiotest.Pin) {
	t.Helper()
	pin := &gpiotest.Pin{
		N:         "GPIO" + t.Name(),
		L:         level,
		EdgesChan: make(chan gpio.Level, 4),
	}
	line := New("ID", pin, "")
	line.SetPollInterval(5 * time.Millisecond)
	t.Cleanup(func() { line.Detach() }) //nolint:errcheck // Test cleanup
	return line, pin
}

func TestLine_Read(t *testing.T) {
	tests := []struct {
		level gpio.Level
		want  bool
	}{
		{gpio.High, true},
		{gpio.Low, false},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			line, _ := newTestLine(t, tt.level)

			got, err := line.Read(context.Background())
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Read() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLine_ReadCancelled(t *testing.T) {
	line, _ := newTestLine(t, gpio.High)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := line.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}

func TestLine_SetDebounceUnsupported(t *testing.T) {
	line, _ := newTestLine(t, gpio.High)

	if err := line.SetDebounce(20 * time.Millisecond); !errors.Is(err, ErrDebounceUnsupported) {
		t.Errorf("SetDebounce() error = %v, want ErrDebounceUnsupported", err)
	}
}

func TestLine_AttachDeliversEdges(t *testing.T) {
	line, pin := newTestLine(t, gpio.Low)

	edges := make(chan struct{}, 4)
	if err := line.Attach(func() { edges <- struct{}{} }); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if !line.Attached() {
		t.Fatal("Attached() = false after Attach()")
	}

	pin.EdgesChan <- gpio.High

	select {
	case <-edges:
	case <-time.After(time.Second):
		t.Fatal("edge not delivered")
	}

	if err := line.Detach(); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if line.Attached() {
		t.Error("Attached() = true after Detach()")
	}
}

func TestLine_DetachStopsDelivery(t *testing.T) {
	line, pin := newTestLine(t, gpio.Low)

	edges := make(chan struct{}, 4)
	if err := line.Attach(func() { edges <- struct{}{} }); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := line.Detach(); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}

	pin.EdgesChan <- gpio.High

	select {
	case <-edges:
		t.Fatal("edge delivered after Detach()")
	case <-time.After(50 * time.Millisecond):
	}

	// Detaching again is a no-op.
	if err := line.Detach(); err != nil {
		t.Errorf("second Detach() error = %v", err)
	}
}

func TestLine_AttachTwice(t *testing.T) {
	line, _ := newTestLine(t, gpio.Low)

	if err := line.Attach(func() {}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := line.Attach(func() {}); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("second Attach() error = %v, want ErrAlreadyAttached", err)
	}
}

func TestLine_AttachWithoutEdgeSupport(t *testing.T) {
	// gpiotest refuses edge detection without an edge channel.
	pin := &gpiotest.Pin{N: "GPIO_NOEDGE", L: gpio.High}
	line := New("VBUS", pin, "")

	if err := line.Attach(func() {}); err == nil {
		t.Fatal("Attach() should fail without edge support")
	}
	if line.Attached() {
		t.Error("Attached() = true after failed Attach()")
	}
}

func TestLine_SetBias(t *testing.T) {
	line, pin := newTestLine(t, gpio.Low)
	ctx := context.Background()

	if err := line.SetBias(ctx, usbrole.BiasPullUp); err != nil {
		t.Fatalf("SetBias(up) error = %v", err)
	}
	if got := pin.Pull(); got != gpio.PullUp {
		t.Errorf("Pull() = %v, want PullUp", got)
	}

	if err := line.SetBias(ctx, usbrole.BiasPullDown); err != nil {
		t.Fatalf("SetBias(down) error = %v", err)
	}
	if got := pin.Pull(); got != gpio.PullDown {
		t.Errorf("Pull() = %v, want PullDown", got)
	}
}

func TestLine_AttachKeepsPull(t *testing.T) {
	line, pin := newTestLine(t, gpio.Low)

	if err := line.SetBias(context.Background(), usbrole.BiasPullUp); err != nil {
		t.Fatalf("SetBias() error = %v", err)
	}
	if err := line.Attach(func() {}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got := pin.Pull(); got != gpio.PullUp {
		t.Errorf("Pull() after Attach = %v, want PullUp", got)
	}
}

func TestLine_SetWake(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wakeup")
	if err := os.WriteFile(path, []byte("disabled\n"), 0o600); err != nil {
		t.Fatalf("writing wakeup file: %v", err)
	}

	pin := &gpiotest.Pin{N: "GPIO_WAKE", L: gpio.High}
	line := New("VBUS", pin, path)

	tests := []struct {
		enable bool
		want   string
	}{
		{true, "enabled"},
		{false, "disabled"},
	}
	for _, tt := range tests {
		if err := line.SetWake(tt.enable); err != nil {
			t.Fatalf("SetWake(%v) error = %v", tt.enable, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading wakeup file: %v", err)
		}
		if string(data) != tt.want {
			t.Errorf("wakeup after SetWake(%v) = %q, want %q", tt.enable, data, tt.want)
		}
	}
}

func TestLine_SetWakeErrors(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO_WAKE_ERR", L: gpio.High}

	if err := New("VBUS", pin, "").SetWake(true); !errors.Is(err, ErrWakeUnsupported) {
		t.Errorf("SetWake() without path error = %v, want ErrWakeUnsupported", err)
	}

	missing := filepath.Join(t.TempDir(), "missing", "wakeup")
	if err := New("VBUS", pin, missing).SetWake(true); err == nil {
		t.Error("SetWake() with missing attribute should fail")
	}
}

func TestPinStates_SleepAndRestore(t *testing.T) {
	ctx := context.Background()
	id, idPin := newTestLine(t, gpio.High)
	vbus, vbusPin := newTestLine(t, gpio.Low)

	if err := id.SetBias(ctx, usbrole.BiasPullDown); err != nil {
		t.Fatalf("SetBias() error = %v", err)
	}
	if err := vbus.Attach(func() {}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	states := NewPinStates(id, nil, vbus)

	if err := states.SelectSleep(); err != nil {
		t.Fatalf("SelectSleep() error = %v", err)
	}
	if idPin.Pull() != gpio.Float || vbusPin.Pull() != gpio.Float {
		t.Errorf("pulls while asleep = %v, %v; want Float", idPin.Pull(), vbusPin.Pull())
	}

	// Bias changes while asleep are applied on restore.
	if err := id.SetBias(ctx, usbrole.BiasPullUp); err != nil {
		t.Fatalf("SetBias() while asleep error = %v", err)
	}
	if idPin.Pull() != gpio.Float {
		t.Errorf("pull changed while asleep: %v", idPin.Pull())
	}

	if err := states.SelectDefault(); err != nil {
		t.Fatalf("SelectDefault() error = %v", err)
	}
	if got := idPin.Pull(); got != gpio.PullUp {
		t.Errorf("ID pull after restore = %v, want PullUp", got)
	}
	if !vbus.Attached() {
		t.Error("VBUS watcher lost across sleep")
	}

	// Restoring twice is harmless.
	if err := states.SelectDefault(); err != nil {
		t.Errorf("second SelectDefault() error = %v", err)
	}
}

func TestOpen(t *testing.T) {
	pin := &gpiotest.Pin{N: "USBROLE_TEST_ID", Num: 9917, L: gpio.High}
	_ = gpioreg.Register(pin) //nolint:errcheck // Already registered on -count > 1

	line, err := Open("ID", "USBROLE_TEST_ID", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if line.Name() != "ID" {
		t.Errorf("Name() = %q, want ID", line.Name())
	}

	if _, err := Open("ID", "USBROLE_NO_SUCH_PIN", ""); !errors.Is(err, ErrPinNotFound) {
		t.Errorf("Open() unknown pin error = %v, want ErrPinNotFound", err)
	}
}
