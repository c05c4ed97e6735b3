package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fabricguard/fabric/internal/fabric"
	"github.com/fabricguard/fabric/internal/router"
)

// Config holds the Controller's CLI-configurable surface (SPEC_FULL.md §6):
// --host, --port, --max-connections.
type Config struct {
	Host           string
	Port           int
	MaxConnections int
}

// Server owns the listening socket, the accept loop, and every accepted
// connection's lifetime. Shutdown is driven by cancelling the Run context:
// it closes the listener (aborting the accept loop) and closes every open
// connection (spec §5 "Cancellation and shutdown").
type Server struct {
	cfg   Config
	store *router.Store
	loops *fabric.Loops

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Server bound to store and loops, not yet listening.
func New(cfg Config, store *router.Store, loops *fabric.Loops) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	return &Server{
		cfg:   cfg,
		store: store,
		loops: loops,
		conns: make(map[net.Conn]struct{}),
		sem:   make(chan struct{}, cfg.MaxConnections),
	}
}

// Run listens and serves until ctx is cancelled, then drains gracefully.
// Returns nil on an orderly shutdown, non-nil on a startup failure.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	slog.Info("controller listening", "addr", addr, "max_connections", s.cfg.MaxConnections)

	if err := s.loops.Start(); err != nil {
		ln.Close()
		return fmt.Errorf("server: start background loops: %w", err)
	}

	acceptErr := make(chan error, 1)
	go s.acceptLoop(ctx, ln, acceptErr)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-acceptErr:
		if err != nil {
			slog.Error("accept loop failed", "error", err)
		}
	}

	s.shutdown()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, done chan<- error) {
	for {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			done <- nil
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			<-s.sem
			if ctx.Err() != nil {
				done <- nil
				return
			}
			slog.Warn("accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			handleConnection(ctx, conn, s.store)
		}()
	}
}

// shutdown closes the listener and every open connection, then waits
// (bounded by a fresh timeout, independent of the already-cancelled ctx)
// for the background loops and in-flight handlers to drain.
func (s *Server) shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.loops.Stop(drainCtx)

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-drainCtx.Done():
	}
	slog.Info("controller shutdown complete")
}
