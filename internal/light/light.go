// Package light holds the per-device state shared between the protocol
// connections that write colors and the synchronizer that sends them.
package light

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueboblightd/internal/color"
	"github.com/dokzlo13/hueboblightd/internal/hue"
)

// Default device profile values
const (
	DefaultBrightness = 150
	MinBrightness     = 1
	MaxBrightness     = 254
)

// initialDim is the color a light shows right after being switched on,
// before the first client color arrives.
var initialDim = color.RGB{R: 0.1, G: 0.1, B: 0.1}

var (
	ErrMissingField = errors.New("missing field")
	ErrOutOfRange   = errors.New("out of range")
)

// Bridge is the subset of the bridge client a light needs.
type Bridge interface {
	Address() string
	Endpoint() string
	GetAttributes(ctx context.Context, id string) *huego.Light
	PutState(ctx context.Context, id string, state hue.StateUpdate) bool
	Probe(ctx context.Context) bool
}

// Scan is the screen region a light represents, in percent of the screen.
type Scan struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

// Spec is the validated, static description of a light.
type Spec struct {
	ID         string
	Name       string
	Gamut      color.Gamut
	Brightness int
	// Transition overrides the global transition time (100ms units) when > 0
	Transition int
	Scan       Scan
}

// Validate checks the fields a light cannot work without.
func (s Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("light id: %w", ErrMissingField)
	}
	if s.Name == "" {
		return fmt.Errorf("light %s name: %w", s.ID, ErrMissingField)
	}
	if s.Brightness < MinBrightness || s.Brightness > MaxBrightness {
		return fmt.Errorf("light %s brightness %d: %w", s.ID, s.Brightness, ErrOutOfRange)
	}
	return nil
}

// Key identifies a light across bridges
type Key struct {
	Endpoint string
	ID       string
}

func (k Key) String() string {
	return k.Endpoint + "#" + k.ID
}

// Light is one device on a bridge.
//
// The pending color and the last sent point are only read and written under
// mu, so readers always see a complete value. Network calls never hold mu.
type Light struct {
	spec   Spec
	bridge Bridge

	mu       sync.Mutex
	target   color.RGB
	lastSent color.Point

	on    atomic.Bool
	inUse atomic.Bool
}

// New creates a light bound to a bridge
func New(spec Spec, bridge Bridge) (*Light, error) {
	if spec.Brightness == 0 {
		spec.Brightness = DefaultBrightness
	}
	if spec.Gamut == (color.Gamut{}) {
		spec.Gamut = color.DefaultGamut
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if bridge == nil {
		return nil, fmt.Errorf("light %s bridge: %w", spec.ID, ErrMissingField)
	}

	l := &Light{spec: spec, bridge: bridge}
	log.Debug().
		Str("bridge", bridge.Address()).
		Str("light", spec.ID).
		Str("name", spec.Name).
		Msg("Light created")
	return l, nil
}

func (l *Light) ID() string         { return l.spec.ID }
func (l *Light) Name() string       { return l.spec.Name }
func (l *Light) Spec() Spec         { return l.spec }
func (l *Light) Scan() Scan         { return l.spec.Scan }
func (l *Light) Bridge() Bridge     { return l.bridge }
func (l *Light) Key() Key           { return Key{Endpoint: l.bridge.Endpoint(), ID: l.spec.ID} }
func (l *Light) IsOn() bool         { return l.on.Load() }
func (l *Light) InUse() bool        { return l.inUse.Load() }
func (l *Light) Gamut() color.Gamut { return l.spec.Gamut }

// SetTarget replaces the pending color. Only the latest value is kept.
func (l *Light) SetTarget(rgb color.RGB) {
	l.mu.Lock()
	l.target = rgb
	l.mu.Unlock()
}

// Target returns the pending color
func (l *Light) Target() color.RGB {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target
}

// LastSent returns the last point the bridge accepted
func (l *Light) LastSent() color.Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSent
}

// Validate asks the bridge whether the light exists and marks it in use
// accordingly.
func (l *Light) Validate(ctx context.Context) bool {
	attrs := l.bridge.GetAttributes(ctx, l.spec.ID)
	ok := attrs != nil && attrs.State != nil
	l.inUse.Store(ok)
	return ok
}

// TurnOn switches the light on at its configured brightness with a dim
// starting color. It does nothing if the light is already on. The light is
// only marked on once the bridge accepts the request, so a failed attempt
// is retried by the next call.
func (l *Light) TurnOn(ctx context.Context) bool {
	if l.on.Load() {
		return false
	}

	dim := color.Convert(initialDim, l.spec.Gamut)
	state := hue.PowerUpdate(true).
		WithXY(dim.X, dim.Y).
		WithBrightness(l.spec.Brightness)

	log.Debug().Str("light", l.spec.ID).Str("name", l.spec.Name).Msg("Turn on light")
	if !l.bridge.PutState(ctx, l.spec.ID, state) {
		return false
	}

	l.mu.Lock()
	l.lastSent = dim
	l.mu.Unlock()
	l.on.Store(true)
	return true
}

// TurnOff switches the light off if it is on. The light is marked off
// before the request, so an idle light is never sent repeated off commands
// even when the bridge drops one.
func (l *Light) TurnOff(ctx context.Context) bool {
	if !l.on.CompareAndSwap(true, false) {
		return false
	}

	log.Debug().Str("light", l.spec.ID).Str("name", l.spec.Name).Msg("Turn off light")
	return l.bridge.PutState(ctx, l.spec.ID, hue.PowerUpdate(false))
}

// PushIfChanged converts the pending color and sends it when it differs from
// the last accepted point. It reports whether a request was sent. On failure
// the last sent point is kept so the next call retries the same target.
func (l *Light) PushIfChanged(ctx context.Context, transition int) bool {
	l.mu.Lock()
	rgb := l.target
	last := l.lastSent
	l.mu.Unlock()

	next := color.Convert(rgb, l.spec.Gamut)
	if next == last {
		return false
	}

	log.Debug().
		Str("light", l.spec.ID).
		Floats64("rgb", []float64{rgb.R, rgb.G, rgb.B}).
		Floats64("from", []float64{last.X, last.Y}).
		Floats64("to", []float64{next.X, next.Y}).
		Msg("Light changed")

	state := hue.StateUpdate{}.WithXY(next.X, next.Y).WithTransition(transition)
	if l.bridge.PutState(ctx, l.spec.ID, state) {
		l.mu.Lock()
		l.lastSent = next
		l.mu.Unlock()
	}
	return true
}

// Status is a point-in-time view of a light for reporting.
type Status struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Bridge   string     `json:"bridge"`
	Gamut    string     `json:"gamut"`
	Scan     Scan       `json:"scan"`
	On       bool       `json:"on"`
	InUse    bool       `json:"in_use"`
	Target   [3]float64 `json:"rgb"`
	LastSent [2]float64 `json:"xy"`
}

// Status returns the light's current state
func (l *Light) Status() Status {
	l.mu.Lock()
	target, last := l.target, l.lastSent
	l.mu.Unlock()

	return Status{
		ID:       l.spec.ID,
		Name:     l.spec.Name,
		Bridge:   l.bridge.Address(),
		Gamut:    l.spec.Gamut.Name,
		Scan:     l.spec.Scan,
		On:       l.on.Load(),
		InUse:    l.inUse.Load(),
		Target:   [3]float64{target.R, target.G, target.B},
		LastSent: [2]float64{last.X, last.Y},
	}
}
