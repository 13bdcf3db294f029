package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueboblightd/internal/config"
	"github.com/dokzlo13/hueboblightd/internal/eventbus"
	"github.com/dokzlo13/hueboblightd/internal/hue"
	"github.com/dokzlo13/hueboblightd/internal/light"
	"github.com/dokzlo13/hueboblightd/internal/lightsync"
	"github.com/dokzlo13/hueboblightd/internal/registry"
)

// SyncService builds the lights from configuration and runs one
// synchronizer over them at a time.
type SyncService struct {
	registry *registry.Registry
	activity *registry.Activity
	bus      *eventbus.Bus

	current atomic.Pointer[lightsync.Synchronizer]

	mu      sync.Mutex
	clients []*hue.Client
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSyncService creates a SyncService over a shared registry
func NewSyncService(reg *registry.Registry, activity *registry.Activity, bus *eventbus.Bus) *SyncService {
	return &SyncService{
		registry: reg,
		activity: activity,
		bus:      bus,
	}
}

// Start populates the registry from cfg and starts a synchronizer
func (s *SyncService) Start(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return lightsync.ErrAlreadyStarted
	}

	clients, err := s.populate(cfg)
	if err != nil {
		return err
	}

	s.clients = clients
	syncer := lightsync.New(s.registry, s.activity, s.bus, lightsync.Options{
		Transition:      cfg.TransitionTime,
		AutoOff:         cfg.AutoOffSeconds.Duration(),
		ShutdownTimeout: cfg.ShutdownTimeout.Duration(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.current.Store(syncer)

	go func(done chan struct{}) {
		defer close(done)
		if err := syncer.Run(runCtx); err != nil {
			log.Error().Err(err).Msg("Synchronizer error")
		}
	}(s.done)

	log.Info().Int("lights", s.registry.Len()).Int("bridges", len(clients)).Msg("Light sync started")
	return nil
}

// populate creates one client per bridge and registers every configured light
func (s *SyncService) populate(cfg *config.Config) ([]*hue.Client, error) {
	s.registry.Clear()

	clients := make(map[string]*hue.Client)
	var ordered []*hue.Client

	for _, ls := range cfg.LightSpecs() {
		key := ls.Address + "/" + ls.Username
		client, ok := clients[key]
		if !ok {
			client = hue.NewClient(ls.Address, ls.Username, cfg.RequestTimeout.Duration()).
				WithRateLimit(cfg.RateLimitRPS)
			clients[key] = client
			ordered = append(ordered, client)
		}

		l, err := light.New(ls.Spec, client)
		if err == nil {
			err = s.registry.Add(l)
		}
		if err != nil {
			s.registry.Clear()
			closeClients(ordered)
			return nil, err
		}
	}
	return ordered, nil
}

// Stop cancels the synchronizer and waits for it to release the lights
func (s *SyncService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *SyncService) stopLocked() {
	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.cancel = nil

	// a synchronizer stopped while connecting leaves its lights registered
	s.registry.Clear()
	closeClients(s.clients)
	s.clients = nil
}

// Reload stops the running synchronizer and starts over from cfg
func (s *SyncService) Reload(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()

	return s.Start(ctx, cfg)
}

// State returns the current synchronizer stage
func (s *SyncService) State() lightsync.State {
	syncer := s.current.Load()
	if syncer == nil {
		return lightsync.StateStopped
	}
	return syncer.State()
}

func closeClients(clients []*hue.Client) {
	for _, c := range clients {
		c.Close()
	}
}
