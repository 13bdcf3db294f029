package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dokzlo13/hueboblightd/internal/config"
	"github.com/dokzlo13/hueboblightd/internal/ledger"
	"github.com/dokzlo13/hueboblightd/internal/light"
	"github.com/dokzlo13/hueboblightd/internal/lightsync"
	"github.com/dokzlo13/hueboblightd/internal/registry"
)

// StatusService provides HTTP health and status endpoints.
type StatusService struct {
	cfg      config.StatusConfig
	timeout  time.Duration
	registry *registry.Registry
	activity *registry.Activity
	ledger   *ledger.Ledger
	state    func() lightsync.State
	server   *http.Server
}

// NewStatusService creates a new StatusService.
func NewStatusService(
	cfg *config.Config,
	reg *registry.Registry,
	activity *registry.Activity,
	l *ledger.Ledger,
	state func() lightsync.State,
) *StatusService {
	return &StatusService{
		cfg:      cfg.Status,
		timeout:  cfg.ShutdownTimeout.Duration(),
		registry: reg,
		activity: activity,
		ledger:   l,
		state:    state,
	}
}

// Start begins the status server if enabled.
func (s *StatusService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Debug().Msg("Status server disabled")
		return
	}

	go s.run(ctx)
}

// Handler returns the status endpoints
func (s *StatusService) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Ready only while lights are being driven
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		state := s.state()
		if state != lightsync.StateRunning {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "state": state.String()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "state": state.String()})
	})

	mux.HandleFunc("/lights", func(w http.ResponseWriter, r *http.Request) {
		lights := lo.Map(s.registry.Snapshot(), func(l *light.Light, _ int) light.Status {
			return l.Status()
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"state":         s.state().String(),
			"last_activity": s.activity.Last().UTC().Format(time.RFC3339),
			"lights":        lights,
		})
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
			limit = min(v, 1000)
		}
		var (
			entries []*ledger.Entry
			err     error
		)
		if t := r.URL.Query().Get("type"); t != "" {
			entries, err = s.ledger.GetByType(ledger.EventType(t), limit)
		} else {
			entries, err = s.ledger.Recent(limit)
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to read ledger")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
			return
		}
		if entries == nil {
			entries = []*ledger.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return mux
}

func (s *StatusService) run(ctx context.Context) {
	addr := s.cfg.Addr()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Starting status server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Status server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
