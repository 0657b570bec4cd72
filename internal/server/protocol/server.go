// Package protocol implements the wire-facing half of the server: the TCP
// listener, the per-connection session state machine (handshake, command
// correlation, drain-on-exit) and the command dispatcher. Messages are
// newline-delimited JSON objects.
package protocol

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/arkadyv/blinddb/internal/logging"
	"github.com/arkadyv/blinddb/internal/server/engine"
	"github.com/arkadyv/blinddb/internal/server/identity"
)

type Server struct {
	address     string
	logger      logging.Logger
	engine      *engine.Engine
	users       identity.Repository
	authTimeout time.Duration

	listener net.Listener
	connMu   sync.Mutex
	conns    map[net.Conn]struct{}
	sessions sync.WaitGroup
}

func NewServer(address string, e *engine.Engine, users identity.Repository, authTimeout time.Duration, l logging.Logger) *Server {
	return &Server{
		address:     address,
		logger:      l.With("module", "protocol_server"),
		engine:      e,
		users:       users,
		authTimeout: authTimeout,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Listen announces the configured address. Split from Serve so callers can
// learn the bound address before accepting.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener and every open connection and waits for sessions to wind down.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "stopping protocol server")
		_ = s.listener.Close()
		s.connMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connMu.Unlock()
	}()

	s.logger.Info(ctx, "protocol server listening", "address", s.listener.Addr().String())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.sessions.Wait()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.track(conn)
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			defer s.untrack(conn)
			newSession(conn, s.engine, s.users, s.authTimeout, s.logger).run(ctx)
		}()
	}
}

// Run listens and serves in one call.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) track(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}
