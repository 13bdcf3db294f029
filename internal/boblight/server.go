// Package boblight serves the boblight line protocol over TCP, translating
// client color updates into pending light targets.
package boblight

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueboblightd/internal/eventbus"
	"github.com/dokzlo13/hueboblightd/internal/registry"
)

// DefaultPort is the port boblight clients connect to by default
const DefaultPort = 19333

// Server accepts boblight clients. Commands only touch the registry and the
// activity clock, never the bridge.
type Server struct {
	registry *registry.Registry
	activity *registry.Activity
	bus      *eventbus.Bus

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a protocol server. bus may be nil.
func NewServer(reg *registry.Registry, activity *registry.Activity, bus *eventbus.Bus) *Server {
	return &Server{
		registry: reg,
		activity: activity,
		bus:      bus,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx is cancelled. On return the
// listener and every open connection are closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
	log.Info().Str("addr", ln.Addr().String()).Msg("Boblight server listening")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
		s.closeConns()
	}()

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				log.Info().Msg("Boblight server stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = min(max(tempDelay*2, 5*time.Millisecond), time.Second)
				log.Warn().Err(err).Dur("retry_in", tempDelay).Msg("Accept failed")
				time.Sleep(tempDelay)
				continue
			}
			// a fatal accept error shuts down like a cancel
			log.Error().Err(err).Msg("Accept failed, stopping boblight server")
			ln.Close()
			s.closeConns()
			s.wg.Wait()
			return err
		}
		tempDelay = 0

		if !s.track(conn) {
			continue
		}
		go s.serveConn(conn)
	}
}

// track registers conn and reserves its goroutine in wg. It reports false
// and closes conn when the server is already shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
}

// serveConn runs one client's read loop. A read or write failure ends only
// this connection.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	session := uuid.NewString()
	remote := conn.RemoteAddr().String()
	logger := log.With().Str("session", session).Str("remote", remote).Logger()
	started := time.Now()

	logger.Info().Msg("Client connected")
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSessionOpened,
		Data: map[string]interface{}{"session": session, "remote": remote},
	})

	lines := 0
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		lines++
		line := scanner.Text()
		logger.Debug().Str("rx", line).Msg("Received")

		reply := s.handle(&logger, line)
		if reply == "" {
			continue
		}
		logger.Debug().Str("tx", reply).Msg("Reply")
		if _, err := conn.Write([]byte(reply)); err != nil {
			logger.Info().Err(err).Msg("Write failed")
			break
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Info().Err(err).Msg("Read failed")
	}

	logger.Info().Int("lines", lines).Dur("duration", time.Since(started)).Msg("Client disconnected")
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSessionClosed,
		Data: map[string]interface{}{
			"session":          session,
			"remote":           remote,
			"lines":            lines,
			"duration_seconds": time.Since(started).Seconds(),
		},
	})
}

// Handle executes one protocol line and returns the reply, or "" when the
// command has none.
func (s *Server) Handle(line string) string {
	logger := log.Logger
	return s.handle(&logger, line)
}
