package app

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueboblightd/internal/boblight"
)

// BoblightService runs the protocol listener and restarts it when the
// configured address changes.
type BoblightService struct {
	server *boblight.Server

	mu     sync.Mutex
	addr   string
	ln     net.Listener
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBoblightService creates a BoblightService
func NewBoblightService(server *boblight.Server) *BoblightService {
	return &BoblightService{server: server}
}

// Start listens on addr and serves in the background. Listen errors are
// returned so a bad address fails startup or reload.
func (s *BoblightService) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	serveCtx, cancel := context.WithCancel(ctx)
	s.addr = addr
	s.ln = ln
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := s.server.Serve(serveCtx, ln); err != nil {
			log.Error().Err(err).Msg("Boblight server error")
		}
	}(s.done)
	return nil
}

// Addr returns the address the listener is bound to
func (s *BoblightService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Restart moves the listener to addr if it differs from the current one
func (s *BoblightService) Restart(ctx context.Context, addr string) error {
	s.mu.Lock()
	same := s.cancel != nil && s.addr == addr
	s.mu.Unlock()
	if same {
		return nil
	}

	log.Info().Str("addr", addr).Msg("Restarting boblight server")
	s.Stop()
	return s.Start(ctx, addr)
}

// Stop closes the listener and every client connection
func (s *BoblightService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.ln = nil
}
