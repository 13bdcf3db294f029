package lightsync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amimof/huego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/hueboblightd/internal/color"
	"github.com/dokzlo13/hueboblightd/internal/hue"
	"github.com/dokzlo13/hueboblightd/internal/light"
	"github.com/dokzlo13/hueboblightd/internal/registry"
)

type fakeBridge struct {
	reachable atomic.Bool
	probes    atomic.Int32
	gets      atomic.Int32

	mu     sync.Mutex
	known  map[string]bool
	states map[string][]hue.StateUpdate
}

func newFakeBridge(ids ...string) *fakeBridge {
	b := &fakeBridge{known: map[string]bool{}, states: map[string][]hue.StateUpdate{}}
	for _, id := range ids {
		b.known[id] = true
	}
	b.reachable.Store(true)
	return b
}

func (b *fakeBridge) Address() string  { return "10.0.0.2" }
func (b *fakeBridge) Endpoint() string { return "10.0.0.2/user" }

func (b *fakeBridge) Probe(ctx context.Context) bool {
	b.probes.Add(1)
	return b.reachable.Load()
}

func (b *fakeBridge) GetAttributes(ctx context.Context, id string) *huego.Light {
	b.gets.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known[id] {
		return nil
	}
	return &huego.Light{State: &huego.State{}}
}

func (b *fakeBridge) PutState(ctx context.Context, id string, state hue.StateUpdate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[id] = append(b.states[id], state)
	return true
}

func (b *fakeBridge) puts(id string) []hue.StateUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]hue.StateUpdate(nil), b.states[id]...)
}

func (b *fakeBridge) offs(id string) int {
	n := 0
	for _, s := range b.puts(id) {
		if s.On != nil && !*s.On {
			n++
		}
	}
	return n
}

func (b *fakeBridge) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.states {
		n += len(s)
	}
	return n
}

type fixture struct {
	bridge   *fakeBridge
	registry *registry.Registry
	activity *registry.Activity
	lights   []*light.Light
}

func newFixture(t *testing.T, bridge *fakeBridge, specs ...light.Spec) *fixture {
	t.Helper()
	f := &fixture{
		bridge:   bridge,
		registry: registry.New(),
		activity: registry.NewActivity(),
	}
	for _, spec := range specs {
		l, err := light.New(spec, bridge)
		require.NoError(t, err)
		require.NoError(t, f.registry.Add(l))
		f.lights = append(f.lights, l)
	}
	return f
}

func (f *fixture) start(t *testing.T, opts Options) (*Synchronizer, context.CancelFunc, <-chan error) {
	t.Helper()
	s := New(f.registry, f.activity, nil, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return s, cancel, done
}

func waitStopped(t *testing.T, done <-chan error, within time.Duration) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(within):
		t.Fatalf("synchronizer did not stop within %v", within)
	}
}

func allOn(lights ...*light.Light) func() bool {
	return func() bool {
		for _, l := range lights {
			if !l.IsOn() {
				return false
			}
		}
		return true
	}
}

func TestSynchronizer_ShutdownTurnsOffOnce(t *testing.T) {
	f := newFixture(t, newFakeBridge("A", "B"),
		light.Spec{ID: "A", Name: "left"},
		light.Spec{ID: "B", Name: "right"},
	)
	opts := Options{TickPerLight: 20 * time.Millisecond}
	s, cancel, done := f.start(t, opts)

	require.Eventually(t, allOn(f.lights...), time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, s.State())

	cancel()
	// one tick for two lights
	waitStopped(t, done, 2*opts.TickPerLight+100*time.Millisecond)

	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, f.bridge.offs("A"))
	assert.Equal(t, 1, f.bridge.offs("B"))
	assert.Zero(t, f.registry.Len(), "lights are removed on shutdown")
}

func TestSynchronizer_AutoOffOnce(t *testing.T) {
	f := newFixture(t, newFakeBridge("A", "B"),
		light.Spec{ID: "A", Name: "left"},
		light.Spec{ID: "B", Name: "right"},
	)
	_, cancel, done := f.start(t, Options{
		TickPerLight: 5 * time.Millisecond,
		AutoOff:      80 * time.Millisecond,
	})

	require.Eventually(t, allOn(f.lights...), time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool {
		return !f.lights[0].IsOn() && !f.lights[1].IsOn()
	}, time.Second, 5*time.Millisecond)

	// several idle ticks
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, f.bridge.offs("A"))
	assert.Equal(t, 1, f.bridge.offs("B"))

	// activity reactivates the lights
	f.activity.Touch()
	f.lights[0].SetTarget(color.RGB{R: 1})
	require.Eventually(t, allOn(f.lights...), time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.lights[0].LastSent() == color.Convert(color.RGB{R: 1}, color.DefaultGamut)
	}, time.Second, 2*time.Millisecond)

	cancel()
	waitStopped(t, done, time.Second)
	assert.Equal(t, 2, f.bridge.offs("A"))
}

func TestSynchronizer_CancelWhileConnecting(t *testing.T) {
	bridge := newFakeBridge("A")
	bridge.reachable.Store(false)
	f := newFixture(t, bridge, light.Spec{ID: "A", Name: "left"})

	s, cancel, done := f.start(t, Options{ReconnectDelay: time.Second})
	require.Eventually(t, func() bool { return bridge.probes.Load() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, StateConnecting, s.State())

	cancel()
	waitStopped(t, done, 200*time.Millisecond)

	assert.Equal(t, StateStopped, s.State())
	assert.Zero(t, bridge.gets.Load(), "validation must not run")
	assert.Zero(t, bridge.total(), "no light commands while connecting")
	assert.Equal(t, 1, f.registry.Len())
}

func TestSynchronizer_RetriesUntilReachable(t *testing.T) {
	bridge := newFakeBridge("A")
	bridge.reachable.Store(false)
	f := newFixture(t, bridge, light.Spec{ID: "A", Name: "left"})

	s, cancel, done := f.start(t, Options{ReconnectDelay: 10 * time.Millisecond, TickPerLight: 5 * time.Millisecond})
	require.Eventually(t, func() bool { return bridge.probes.Load() >= 3 }, time.Second, time.Millisecond)
	bridge.reachable.Store(true)

	require.Eventually(t, func() bool { return s.State() == StateRunning }, time.Second, time.Millisecond)
	cancel()
	waitStopped(t, done, time.Second)
}

func TestSynchronizer_InvalidLightsExcluded(t *testing.T) {
	f := newFixture(t, newFakeBridge("A"),
		light.Spec{ID: "A", Name: "left"},
		light.Spec{ID: "ghost", Name: "missing"},
	)
	s, cancel, done := f.start(t, Options{TickPerLight: 5 * time.Millisecond})

	require.Eventually(t, allOn(f.lights[0]), time.Second, 2*time.Millisecond)
	f.lights[1].SetTarget(color.RGB{B: 1})
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, StateRunning, s.State())
	assert.False(t, f.lights[1].InUse())
	assert.Empty(t, f.bridge.puts("ghost"))
	assert.Equal(t, 2, f.registry.Len(), "invalid lights stay registered for reporting")

	cancel()
	waitStopped(t, done, time.Second)
	assert.Empty(t, f.bridge.puts("ghost"))
}

func TestSynchronizer_PushesTargets(t *testing.T) {
	f := newFixture(t, newFakeBridge("A", "B"),
		light.Spec{ID: "A", Name: "left", Transition: 8},
		light.Spec{ID: "B", Name: "right"},
	)
	_, cancel, done := f.start(t, Options{TickPerLight: 5 * time.Millisecond, Transition: 1})
	require.Eventually(t, allOn(f.lights...), time.Second, 2*time.Millisecond)

	f.lights[0].SetTarget(color.RGB{R: 1})
	f.lights[1].SetTarget(color.RGB{G: 1})

	lastColor := func(id string) *hue.StateUpdate {
		puts := f.bridge.puts(id)
		for i := len(puts) - 1; i >= 0; i-- {
			if puts[i].On == nil {
				return &puts[i]
			}
		}
		return nil
	}
	require.Eventually(t, func() bool {
		return lastColor("A") != nil && lastColor("B") != nil
	}, time.Second, 2*time.Millisecond)

	a, b := lastColor("A"), lastColor("B")
	want := color.Convert(color.RGB{R: 1}, color.DefaultGamut)
	assert.Equal(t, []float64{want.X, want.Y}, a.XY)
	require.NotNil(t, a.TransitionTime)
	assert.EqualValues(t, MaxTransition, *a.TransitionTime, "per-light transition is capped")
	require.NotNil(t, b.TransitionTime)
	assert.EqualValues(t, 1, *b.TransitionTime)

	cancel()
	waitStopped(t, done, time.Second)
}

func TestSynchronizer_RunOnce(t *testing.T) {
	f := newFixture(t, newFakeBridge())
	s, cancel, done := f.start(t, Options{TickPerLight: 5 * time.Millisecond})
	require.Eventually(t, func() bool { return s.State() == StateRunning }, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyStarted)
	cancel()
	waitStopped(t, done, time.Second)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestPeriod(t *testing.T) {
	s := New(registry.New(), registry.NewActivity(), nil, Options{})
	assert.Equal(t, 300*time.Millisecond, s.period(3))
	assert.Equal(t, 100*time.Millisecond, s.period(0))
}
