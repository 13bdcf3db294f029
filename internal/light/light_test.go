package light

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/amimof/huego"

	"github.com/dokzlo13/hueboblightd/internal/color"
	"github.com/dokzlo13/hueboblightd/internal/hue"
)

type fakeBridge struct {
	mu     sync.Mutex
	fail   bool
	known  map[string]bool
	states []hue.StateUpdate
}

func newFakeBridge(ids ...string) *fakeBridge {
	known := make(map[string]bool)
	for _, id := range ids {
		known[id] = true
	}
	return &fakeBridge{known: known}
}

func (b *fakeBridge) Address() string  { return "10.0.0.2" }
func (b *fakeBridge) Endpoint() string { return "10.0.0.2/user" }

func (b *fakeBridge) Probe(ctx context.Context) bool { return true }

func (b *fakeBridge) GetAttributes(ctx context.Context, id string) *huego.Light {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known[id] {
		return nil
	}
	return &huego.Light{Name: id, State: &huego.State{On: true}}
}

func (b *fakeBridge) PutState(ctx context.Context, id string, state hue.StateUpdate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, state)
	return !b.fail
}

func (b *fakeBridge) setFail(fail bool) {
	b.mu.Lock()
	b.fail = fail
	b.mu.Unlock()
}

func (b *fakeBridge) puts() []hue.StateUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]hue.StateUpdate(nil), b.states...)
}

func newTestLight(t *testing.T, b Bridge) *Light {
	t.Helper()
	l, err := New(Spec{ID: "1", Name: "left", Brightness: 200}, b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestNew_Defaults(t *testing.T) {
	l, err := New(Spec{ID: "1", Name: "left"}, newFakeBridge())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := l.Spec().Brightness; got != DefaultBrightness {
		t.Errorf("brightness = %d, want %d", got, DefaultBrightness)
	}
	if l.Gamut() != color.DefaultGamut {
		t.Errorf("gamut = %s, want default", l.Gamut().Name)
	}
	if l.IsOn() || l.InUse() {
		t.Error("new light must be off and not in use")
	}
	if l.Key() != (Key{Endpoint: "10.0.0.2/user", ID: "1"}) {
		t.Errorf("key = %v", l.Key())
	}
}

func TestNew_InvalidSpec(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want error
	}{
		{"missing id", Spec{Name: "x"}, ErrMissingField},
		{"missing name", Spec{ID: "1"}, ErrMissingField},
		{"brightness high", Spec{ID: "1", Name: "x", Brightness: 255}, ErrOutOfRange},
		{"brightness negative", Spec{ID: "1", Name: "x", Brightness: -1}, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec, newFakeBridge())
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := New(Spec{ID: "1", Name: "x"}, nil); !errors.Is(err, ErrMissingField) {
		t.Errorf("nil bridge err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	b := newFakeBridge("1")
	l := newTestLight(t, b)
	if !l.Validate(context.Background()) || !l.InUse() {
		t.Error("known light should validate")
	}

	other, _ := New(Spec{ID: "7", Name: "ghost"}, b)
	if other.Validate(context.Background()) || other.InUse() {
		t.Error("unknown light must not be in use")
	}
}

func TestPushIfChanged_Idempotent(t *testing.T) {
	b := newFakeBridge("1")
	l := newTestLight(t, b)
	l.SetTarget(color.RGB{R: 1})

	if !l.PushIfChanged(context.Background(), 3) {
		t.Fatal("first push should send")
	}
	if l.PushIfChanged(context.Background(), 3) {
		t.Error("unchanged target must not be sent again")
	}
	puts := b.puts()
	if len(puts) != 1 {
		t.Fatalf("bridge saw %d PUTs, want 1", len(puts))
	}
	if puts[0].On != nil {
		t.Error("color update must not change power")
	}
	if puts[0].TransitionTime == nil || *puts[0].TransitionTime != 3 {
		t.Errorf("transition = %v", puts[0].TransitionTime)
	}
	want := color.Convert(color.RGB{R: 1}, color.DefaultGamut)
	if l.LastSent() != want {
		t.Errorf("last sent = %v, want %v", l.LastSent(), want)
	}
}

func TestPushIfChanged_FailureKeepsLastSent(t *testing.T) {
	b := newFakeBridge("1")
	l := newTestLight(t, b)
	b.setFail(true)
	l.SetTarget(color.RGB{G: 1})

	if !l.PushIfChanged(context.Background(), 3) {
		t.Fatal("push should be attempted")
	}
	if l.LastSent() != (color.Point{}) {
		t.Errorf("failed push updated last sent to %v", l.LastSent())
	}

	// retried on the next call, then settles
	b.setFail(false)
	if !l.PushIfChanged(context.Background(), 3) {
		t.Error("failed push should be retried")
	}
	if l.PushIfChanged(context.Background(), 3) {
		t.Error("accepted push should not repeat")
	}
	if n := len(b.puts()); n != 2 {
		t.Errorf("bridge saw %d PUTs, want 2", n)
	}
}

func TestTurnOnOff(t *testing.T) {
	b := newFakeBridge("1")
	l := newTestLight(t, b)

	if !l.TurnOn(context.Background()) || !l.IsOn() {
		t.Fatal("TurnOn should switch the light on")
	}
	if l.TurnOn(context.Background()) {
		t.Error("second TurnOn must be a no-op")
	}

	puts := b.puts()
	if len(puts) != 1 {
		t.Fatalf("bridge saw %d PUTs, want 1", len(puts))
	}
	on := puts[0]
	if on.On == nil || !*on.On {
		t.Error("turn on must send on=true")
	}
	if on.Bri == nil || *on.Bri != 200 {
		t.Errorf("bri = %v, want 200", on.Bri)
	}
	if len(on.XY) != 2 {
		t.Errorf("turn on must send a dim starting color, got %v", on.XY)
	}
	if l.LastSent() != color.Convert(initialDim, color.DefaultGamut) {
		t.Errorf("last sent after turn on = %v", l.LastSent())
	}

	if !l.TurnOff(context.Background()) || l.IsOn() {
		t.Fatal("TurnOff should switch the light off")
	}
	if l.TurnOff(context.Background()) {
		t.Error("second TurnOff must be a no-op")
	}
	puts = b.puts()
	if len(puts) != 2 || puts[1].On == nil || *puts[1].On {
		t.Errorf("expected a single off command, got %d PUTs", len(puts))
	}
}

func TestTurnOn_FailureRetries(t *testing.T) {
	b := newFakeBridge("1")
	l := newTestLight(t, b)
	b.setFail(true)

	if l.TurnOn(context.Background()) || l.IsOn() {
		t.Fatal("rejected TurnOn must leave the light off")
	}
	b.setFail(false)
	if !l.TurnOn(context.Background()) {
		t.Error("TurnOn should be retried after a failure")
	}
}

func TestTurnOff_FailureStillMarksOff(t *testing.T) {
	b := newFakeBridge("1")
	l := newTestLight(t, b)
	l.TurnOn(context.Background())
	b.setFail(true)

	if l.TurnOff(context.Background()) {
		t.Error("rejected TurnOff should report failure")
	}
	if l.IsOn() {
		t.Error("light must be marked off even when the bridge rejects")
	}
}

func TestSetTarget_Concurrent(t *testing.T) {
	l := newTestLight(t, newFakeBridge("1"))

	// every writer uses equal channels, so a torn read shows up as a mix
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			v := float64(w) / 8
			for i := 0; i < 1000; i++ {
				l.SetTarget(color.RGB{R: v, G: v, B: v})
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		rgb := l.Target()
		if rgb.R != rgb.G || rgb.G != rgb.B {
			t.Fatalf("torn target %v", rgb)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func TestStatus(t *testing.T) {
	l := newTestLight(t, newFakeBridge("1"))
	l.SetTarget(color.RGB{R: 0.5, G: 0.25, B: 0})
	st := l.Status()
	if st.ID != "1" || st.Name != "left" || st.Bridge != "10.0.0.2" {
		t.Errorf("status = %+v", st)
	}
	if st.Target != [3]float64{0.5, 0.25, 0} {
		t.Errorf("target = %v", st.Target)
	}
}
