package usbrole

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errNoHardwareDebounce = errors.New("hardware debounce not supported")

// fakeLine is an in-memory SenseLine.
type fakeLine struct {
	name string

	mu          sync.Mutex
	level       bool
	readErr     error
	readGate    chan struct{} // when set, Read blocks until it is closed
	readStarted chan struct{}
	debounceErr error
	attachErr   error
	armErr      error
	disarmErr   error
	onEdge      func()
	attaches    int
	detaches    int
	wake        bool
	wakeCalls   []bool
}

func newFakeLine(name string, level bool) *fakeLine {
	return &fakeLine{
		name:        name,
		level:       level,
		debounceErr: errNoHardwareDebounce,
	}
}

func (l *fakeLine) Name() string { return l.name }

func (l *fakeLine) Read(ctx context.Context) (bool, error) {
	l.mu.Lock()
	gate := l.readGate
	started := l.readStarted
	l.mu.Unlock()

	if gate != nil {
		if started != nil {
			select {
			case started <- struct{}{}:
			default:
			}
		}
		<-gate
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return false, l.readErr
	}
	return l.level, nil
}

func (l *fakeLine) SetDebounce(time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debounceErr
}

func (l *fakeLine) Attach(onEdge func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attaches++
	if l.attachErr != nil {
		return l.attachErr
	}
	l.onEdge = onEdge
	return nil
}

func (l *fakeLine) Detach() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detaches++
	l.onEdge = nil
	return nil
}

func (l *fakeLine) SetWake(enable bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wakeCalls = append(l.wakeCalls, enable)
	if enable && l.armErr != nil {
		return l.armErr
	}
	if !enable && l.disarmErr != nil {
		return l.disarmErr
	}
	l.wake = enable
	return nil
}

// set changes the level without raising an edge.
func (l *fakeLine) set(level bool) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// edge changes the level and delivers an interrupt if attached.
func (l *fakeLine) edge(level bool) {
	l.mu.Lock()
	l.level = level
	cb := l.onEdge
	l.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (l *fakeLine) attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.onEdge != nil
}

func (l *fakeLine) counts() (attaches, detaches int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attaches, l.detaches
}

func (l *fakeLine) wakeState() (bool, []bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wake, append([]bool(nil), l.wakeCalls...)
}

// fakePublisher records every SetState call.
type fakePublisher struct {
	mu     sync.Mutex
	state  map[Capability]bool
	calls  []StateChange
	setErr error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{state: make(map[Capability]bool)}
}

func (p *fakePublisher) SetState(_ context.Context, capability Capability, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, StateChange{Capability: capability, Active: active})
	if p.setErr != nil {
		return p.setErr
	}
	p.state[capability] = active
	return nil
}

func (p *fakePublisher) active(capability Capability) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state[capability]
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePublisher) lastCall() StateChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return StateChange{}
	}
	return p.calls[len(p.calls)-1]
}

// fakeBias records bias changes.
type fakeBias struct {
	mu    sync.Mutex
	calls []Bias
	err   map[Bias]error
}

func (b *fakeBias) SetBias(_ context.Context, bias Bias) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, bias)
	return b.err[bias]
}

func (b *fakeBias) history() []Bias {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Bias(nil), b.calls...)
}

// fakePins records pin state switches.
type fakePins struct {
	mu       sync.Mutex
	sleeps   int
	defaults int
	sleepErr error
}

func (f *fakePins) SelectSleep() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps++
	return f.sleepErr
}

func (f *fakePins) SelectDefault() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults++
	return nil
}

// testRig bundles a port with its collaborators.
type testRig struct {
	port *Port
	id   *fakeLine
	vbus *fakeLine
	pub  *fakePublisher
	bias *fakeBias
	pins *fakePins
}

const testDebounce = 20 * time.Millisecond

// newTestRig builds a port with both lines; id and vbus give the initial levels.
func newTestRig(t *testing.T, id, vbus bool, mutate ...func(*Options)) *testRig {
	t.Helper()

	rig := &testRig{
		id:   newFakeLine("id", id),
		vbus: newFakeLine("vbus", vbus),
		pub:  newFakePublisher(),
		bias: &fakeBias{},
		pins: &fakePins{},
	}

	opts := Options{
		ID:         rig.id,
		VBUS:       rig.vbus,
		Bias:       rig.bias,
		Publisher:  rig.pub,
		PinStates:  rig.pins,
		Debounce:   testDebounce,
		BiasSettle: time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}

	port, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		port.Close() //nolint:errcheck // Test cleanup
	})

	rig.port = port
	return rig
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitEvaluations waits until the port has completed want evaluations and
// nothing else is pending.
func (r *testRig) waitEvaluations(t *testing.T, want int64) {
	t.Helper()
	waitFor(t, time.Second, "evaluations to complete", func() bool {
		return r.port.Evaluations() >= want && !r.port.sched.pending()
	})
}
