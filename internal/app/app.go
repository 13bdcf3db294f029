package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueboblightd/internal/config"
)

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc

	reloadMu sync.Mutex
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		a.cancel()
		return err
	}

	log.Info().Str("addr", a.services.Boblight.Addr()).Int("lights", a.services.Registry.Len()).Msg("hueboblightd started")
	return nil
}

// Reload validates cfg and reconfigures the running services. An invalid
// configuration is rejected and the current one stays in effect.
func (a *App) Reload(cfg *config.Config) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info().Msg("Reconfiguring")
	if err := a.services.Reload(a.ctx, cfg); err != nil {
		return err
	}
	a.cfg = cfg
	log.Info().Int("lights", a.services.Registry.Len()).Msg("Reconfigured")
	return nil
}

// Services exposes the running services.
func (a *App) Services() *Services {
	return a.services
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		return a.services.Stop(ctx)
	}

	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.ShutdownTimeout.Duration(); d > 0 {
		return d
	}
	return 5 * time.Second
}

// Done is closed when the application context is cancelled.
func (a *App) Done() <-chan struct{} {
	return a.ctx.Done()
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}

// ReloadSignals delivers SIGHUP, which asks for a configuration reload.
func ReloadSignals() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	return sigChan
}

func retention(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
