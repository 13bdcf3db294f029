// Package lightsync drives configured lights from the colors clients set.
//
// A Synchronizer owns one pass through the lifecycle
//
//	init -> connecting -> validating -> running -> shutting_down -> stopped
//
// Reconfiguration is done by cancelling Run, rebuilding the registry and
// starting a new Synchronizer.
package lightsync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dokzlo13/hueboblightd/internal/eventbus"
	"github.com/dokzlo13/hueboblightd/internal/light"
	"github.com/dokzlo13/hueboblightd/internal/registry"
)

// Defaults
const (
	DefaultTransition      = 3
	MaxTransition          = 3
	DefaultReconnectDelay  = 1 * time.Second
	DefaultTickPerLight    = 100 * time.Millisecond
	DefaultShutdownTimeout = 5 * time.Second
)

var ErrAlreadyStarted = errors.New("synchronizer already started")

// Options tune the synchronizer
type Options struct {
	// Transition is the global fade time in 100ms units. Lights may
	// override it; the effective value never exceeds MaxTransition.
	Transition int
	// AutoOff turns lights off after this long without client activity.
	// Zero disables it.
	AutoOff time.Duration
	// ReconnectDelay is the wait between bridge probes
	ReconnectDelay time.Duration
	// TickPerLight times the number of valid lights is the tick period
	TickPerLight time.Duration
	// ShutdownTimeout bounds sending the final off commands
	ShutdownTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Transition <= 0 {
		o.Transition = DefaultTransition
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.TickPerLight <= 0 {
		o.TickPerLight = DefaultTickPerLight
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.AutoOff < 0 {
		o.AutoOff = 0
	}
	return o
}

// Synchronizer pushes pending light colors to their bridges
type Synchronizer struct {
	registry *registry.Registry
	activity *registry.Activity
	bus      *eventbus.Bus
	opts     Options

	state   atomic.Int32
	started atomic.Bool
	idle    bool
}

// New creates a synchronizer over the lights in reg. bus may be nil.
func New(reg *registry.Registry, activity *registry.Activity, bus *eventbus.Bus, opts Options) *Synchronizer {
	return &Synchronizer{
		registry: reg,
		activity: activity,
		bus:      bus,
		opts:     opts.withDefaults(),
	}
}

// State returns the current lifecycle stage
func (s *Synchronizer) State() State {
	return State(s.state.Load())
}

// Run executes the lifecycle until ctx is cancelled. It returns once the
// synchronizer is stopped; device failures never end it early.
func (s *Synchronizer) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.setState(StateInit)

	s.setState(StateConnecting)
	if !s.connect(ctx) {
		s.setState(StateStopped)
		return nil
	}

	s.setState(StateValidating)
	s.validate(ctx)

	if ctx.Err() == nil {
		s.setState(StateRunning)
		s.activity.Touch()
		s.loop(ctx)
	}

	s.setState(StateShuttingDown)
	s.shutdown(ctx)
	s.setState(StateStopped)
	return nil
}

func (s *Synchronizer) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev == st && st != StateInit {
		return
	}
	log.Info().Str("state", st.String()).Msg("Synchronizer state")
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSyncState,
		Data: map[string]interface{}{
			"state":  st.String(),
			"lights": s.registry.Len(),
		},
	})
}

// connect probes the bridges of the registered lights until one of them
// answers. It returns false if ctx is cancelled first.
func (s *Synchronizer) connect(ctx context.Context) bool {
	bridges := lo.UniqBy(
		lo.Map(s.registry.Snapshot(), func(l *light.Light, _ int) light.Bridge { return l.Bridge() }),
		func(b light.Bridge) string { return b.Endpoint() },
	)
	if len(bridges) == 0 {
		log.Warn().Msg("No lights configured")
		return ctx.Err() == nil
	}

	for attempt := 1; ; attempt++ {
		for _, b := range bridges {
			if b.Probe(ctx) {
				log.Info().Str("bridge", b.Address()).Int("attempt", attempt).Msg("Bridge connected")
				return true
			}
		}

		log.Warn().
			Int("attempt", attempt).
			Dur("retry_in", s.opts.ReconnectDelay).
			Msg("No bridge reachable, retrying")
		if !sleep(ctx, s.opts.ReconnectDelay) {
			return false
		}
	}
}

func (s *Synchronizer) validate(ctx context.Context) {
	for _, l := range s.registry.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if l.Validate(ctx) {
			log.Info().Str("light", l.ID()).Str("name", l.Name()).Str("bridge", l.Bridge().Address()).Msg("Light validated")
			continue
		}
		log.Warn().
			Str("light", l.ID()).
			Str("name", l.Name()).
			Str("bridge", l.Bridge().Address()).
			Msg("Light not found on bridge, excluded from sync")
	}
}

func (s *Synchronizer) loop(ctx context.Context) {
	for {
		lights := s.registry.Valid()
		s.tick(ctx, lights)

		if !sleep(ctx, s.period(len(lights))) {
			return
		}
	}
}

// period keeps the aggregate request rate near one per TickPerLight
func (s *Synchronizer) period(valid int) time.Duration {
	return s.opts.TickPerLight * time.Duration(max(valid, 1))
}

func (s *Synchronizer) tick(ctx context.Context, lights []*light.Light) {
	if s.opts.AutoOff > 0 && s.activity.Since() > s.opts.AutoOff {
		s.autoOff(ctx, lights)
		return
	}
	if s.idle {
		s.idle = false
		log.Info().Msg("Client active again, resuming lights")
	}

	for _, l := range lights {
		if ctx.Err() != nil {
			return
		}
		l.TurnOn(ctx)
		l.PushIfChanged(ctx, s.transition(l))
	}
}

func (s *Synchronizer) autoOff(ctx context.Context, lights []*light.Light) {
	turnedOff := 0
	for _, l := range lights {
		if l.IsOn() {
			l.TurnOff(ctx)
			turnedOff++
		}
	}
	s.idle = true
	if turnedOff == 0 {
		return
	}

	idle := s.activity.Since()
	log.Info().Dur("idle", idle).Int("lights", turnedOff).Msg("No client activity, lights turned off")
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeAutoOff,
		Data: map[string]interface{}{
			"idle_seconds": idle.Seconds(),
			"lights":       turnedOff,
		},
	})
}

// transition returns the light's own fade time if set, else the global
// one, capped so a fade finishes before the next update
func (s *Synchronizer) transition(l *light.Light) int {
	t := s.opts.Transition
	if own := l.Spec().Transition; own > 0 {
		t = own
	}
	return min(t, MaxTransition)
}

// shutdown turns every light off and removes it from the registry. The run
// context is already cancelled, so the off commands get their own deadline.
func (s *Synchronizer) shutdown(ctx context.Context) {
	offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()

	lights := s.registry.Clear()
	for _, l := range lights {
		l.TurnOff(offCtx)
	}
	log.Info().Int("lights", len(lights)).Msg("Lights released")
}

// sleep waits for d and reports false if ctx was cancelled first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
