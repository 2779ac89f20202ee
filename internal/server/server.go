// Package server provides HTTP server lifecycle management.
// It runs background services next to the HTTP listener and shuts
// everything down gracefully.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// ShutdownFunc is a function that shuts down a component gracefully.
type ShutdownFunc func(ctx context.Context) error

// BackgroundFunc is a long-running service started with the server. It
// must return once ctx is cancelled.
type BackgroundFunc func(ctx context.Context) error

type background struct {
	name string
	fn   BackgroundFunc
}

// Server wraps http.Server with background services and graceful shutdown.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
	shutdownFuncs   []ShutdownFunc
	backgrounds     []background
	mu              sync.Mutex

	listenerMu sync.Mutex
	listener   net.Listener
}

// New creates a new Server instance.
func New(handler http.Handler, port int, readTimeout, writeTimeout, shutdownTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With("component", "server"),
	}
}

// OnShutdown registers a function to be called during graceful shutdown.
// Shutdown functions are called in reverse order (LIFO) after the HTTP server stops,
// so producers registered last are drained before the stores they write to close.
func (s *Server) OnShutdown(name string, fn ShutdownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownFuncs = append(s.shutdownFuncs, func(ctx context.Context) error {
		s.logger.Info("shutting down component", "name", name)
		if err := fn(ctx); err != nil {
			s.logger.Error("component shutdown error", "name", name, "error", err)
			return err
		}
		s.logger.Info("component stopped", "name", name)
		return nil
	})
}

// Go registers a background service started by Run. A service that fails
// is logged; it does not stop the server.
func (s *Server) Go(name string, fn BackgroundFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backgrounds = append(s.backgrounds, background{name: name, fn: fn})
}

// Run starts background services and the HTTP listener, then blocks until
// ctx is cancelled or the listener fails. Cancellation triggers a graceful
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	var bgWG sync.WaitGroup
	s.mu.Lock()
	backgrounds := append([]background(nil), s.backgrounds...)
	s.mu.Unlock()
	for _, b := range backgrounds {
		bgWG.Add(1)
		go func(b background) {
			defer bgWG.Done()
			s.logger.Info("background service starting", "name", b.name)
			if err := b.fn(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("background service failed", "name", b.name, "error", err)
			}
		}(b)
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownErr := s.gracefulShutdown(cancelBackground, &bgWG)
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// gracefulShutdown stops the listener, background services and every
// registered component within shutdownTimeout.
func (s *Server) gracefulShutdown(cancelBackground context.CancelFunc, bgWG *sync.WaitGroup) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	// Phase 1: Stop accepting new connections
	s.logger.Info("phase 1: stopping HTTP server", "timeout", s.shutdownTimeout)
	s.httpServer.SetKeepAlivesEnabled(false)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
	s.logger.Info("HTTP server stopped")

	// Phase 2: Shutdown registered components in reverse order
	s.mu.Lock()
	funcs := s.shutdownFuncs
	s.mu.Unlock()
	s.logger.Info("phase 2: stopping registered components", "count", len(funcs))

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	// Phase 3: Background services
	cancelBackground()
	done := make(chan struct{})
	go func() {
		bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("background services: %w", ctx.Err()))
	}

	if len(errs) > 0 {
		s.logger.Error("shutdown completed with errors", "error_count", len(errs))
		return errors.Join(errs...)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// Addr returns the bound address once Run is listening, otherwise the
// configured address.
func (s *Server) Addr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}
