package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run listens on the configured address and serves until ctx is done or the
// process receives SIGINT or SIGTERM.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen control: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts control connections on ln and runs the metrics endpoint
// until ctx is done. It closes ln and the store before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer func() { _ = s.store.NonTx().Close() }()

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(ctx, ln) })
	g.Go(func() error { return s.serveMetrics(ctx) })
	g.Go(func() error {
		s.metrics.runPeriodicLog(60*time.Second, ctx.Done())
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down...")
		s.Shutdown()
		return nil
	})

	slog.Info("gavel server running",
		"control", ln.Addr().String(),
		"metrics", s.cfg.MetricsAddr,
		"areas", len(s.areas.All()),
	)
	return g.Wait()
}

// Shutdown stops accepting connections and disconnects every session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	for _, sess := range s.sessions.All() {
		s.sessions.Disconnect(sess.ID, "The server is shutting down.")
	}
}

// Addr returns the control listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
