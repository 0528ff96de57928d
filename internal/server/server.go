// Package server owns the daemon runtime: the protocol listener, the admin
// HTTP surface, and connection lifecycle.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/depotd/internal/actions"
	"github.com/danmuck/depotd/internal/config"
	"github.com/danmuck/depotd/internal/protocol"
	"github.com/danmuck/depotd/internal/session"
)

// Server accepts connections and hands each one to a protocol session.
type Server struct {
	cfg      config.Config
	registry *actions.Registry
	logger   zerolog.Logger
	started  time.Time

	ready     chan struct{}
	readyOnce sync.Once

	mu        sync.Mutex
	protoAddr net.Addr
	adminAddr net.Addr
	conns     map[net.Conn]struct{}

	sessions sync.WaitGroup
}

func New(cfg config.Config, registry *actions.Registry, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		started:  time.Now(),
		ready:    make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Run serves the protocol and admin listeners until ctx is cancelled. All
// live sessions are torn down before it returns.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	adminLn, err := net.Listen("tcp", s.cfg.AdminAddr)
	if err != nil {
		_ = ln.Close()
		return err
	}

	s.mu.Lock()
	s.protoAddr = ln.Addr()
	s.adminAddr = adminLn.Addr()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info().
		Str("listen", ln.Addr().String()).
		Str("admin", adminLn.Addr().String()).
		Strs("kinds", s.registry.Kinds()).
		Msg("depotd listening")

	adminSrv := &http.Server{Handler: s.adminEngine()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
		s.closeConns()
		return nil
	})
	g.Go(func() error {
		return s.acceptLoop(gctx, ln)
	})
	g.Go(func() error {
		if err := adminSrv.Serve(adminLn); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = g.Wait()
	s.sessions.Wait()
	return err
}

// WaitReady blocks until both listeners are bound.
func (s *Server) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProtocolAddr returns the bound protocol listener address.
func (s *Server) ProtocolAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protoAddr
}

// AdminAddr returns the bound admin listener address.
func (s *Server) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminAddr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			defer s.untrackConn(conn)
			sess := session.New(conn, s.registry, session.Options{
				Limits:      protocol.Limits{MaxRequestSize: s.cfg.MaxRequestSize},
				IdleTimeout: time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
				Logger:      s.logger,
			})
			sess.Run(ctx)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
