package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueboblightd/internal/boblight"
	"github.com/dokzlo13/hueboblightd/internal/config"
	"github.com/dokzlo13/hueboblightd/internal/db"
	"github.com/dokzlo13/hueboblightd/internal/eventbus"
	"github.com/dokzlo13/hueboblightd/internal/ledger"
	"github.com/dokzlo13/hueboblightd/internal/registry"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Shared light state
	Registry *registry.Registry
	Activity *registry.Activity

	// High-level services
	Sync     *SyncService
	Boblight *BoblightService
	Status   *StatusService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Ledger is optional
	if cfg.Ledger.Path != "" {
		database, err := db.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
	}

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)
	s.Ledger.Subscribe(s.Bus)

	s.Registry = registry.New()
	s.Activity = registry.NewActivity()

	s.Sync = NewSyncService(s.Registry, s.Activity, s.Bus)
	s.Boblight = NewBoblightService(boblight.NewServer(s.Registry, s.Activity, s.Bus))
	s.Status = NewStatusService(cfg, s.Registry, s.Activity, s.Ledger, s.Sync.State)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	if err := s.Sync.Start(ctx, s.cfg); err != nil {
		return err
	}
	if err := s.Boblight.Start(ctx, s.cfg.Server.Addr()); err != nil {
		s.Sync.Stop()
		return err
	}

	s.Status.Start(ctx)
	if s.Ledger != nil {
		go s.Ledger.RunCleanup(ctx, retention(s.cfg.Ledger.RetentionDays), s.cfg.Ledger.CleanupInterval.Duration())
	}
	return nil
}

// Reload applies a new configuration: lights are rebuilt and the listener
// moves if its address changed.
func (s *Services) Reload(ctx context.Context, cfg *config.Config) error {
	if err := s.Sync.Reload(ctx, cfg); err != nil {
		s.restoreSync(ctx)
		return err
	}
	if err := s.Boblight.Restart(ctx, cfg.Server.Addr()); err != nil {
		if restoreErr := s.Boblight.Start(ctx, s.cfg.Server.Addr()); restoreErr != nil {
			log.Error().Err(restoreErr).Msg("Failed to restore boblight server")
		}
		// lights already follow the new config, keep the two consistent
		if syncErr := s.Sync.Reload(ctx, s.cfg); syncErr != nil {
			log.Error().Err(syncErr).Msg("Failed to restore light sync")
		}
		return err
	}

	if cfg.Status != s.cfg.Status || cfg.Ledger != s.cfg.Ledger || cfg.Log != s.cfg.Log || cfg.EventBus != s.cfg.EventBus {
		log.Warn().Msg("Log, status, ledger and event bus settings take effect after restart")
	}
	s.cfg = cfg

	s.Bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeReconfigured,
		Data: map[string]interface{}{
			"lights": s.Registry.Len(),
			"addr":   cfg.Server.Addr(),
		},
	})
	return nil
}

func (s *Services) restoreSync(ctx context.Context) {
	if err := s.Sync.Start(ctx, s.cfg); err != nil {
		log.Error().Err(err).Msg("Failed to restore light sync")
	}
}

// Stop gracefully stops all services.
func (s *Services) Stop(ctx context.Context) error {
	s.Boblight.Stop()
	s.Sync.Stop()
	s.Bus.Close(ctx)
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}
