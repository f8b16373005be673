// Package adminapi serves the HTTP inspection surface of a metadata node:
// health probes, Prometheus metrics and read-only views of the directory
// tree, the coordinator caches and the lock queues.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/config"
)

// Server is the admin HTTP server. It supports graceful shutdown.
type Server struct {
	server       *http.Server
	config       config.AdminConfig
	shutdownOnce sync.Once

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a stopped admin server. Call Start to begin serving.
func NewServer(cfg config.AdminConfig, deps Deps) *Server {
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultAdminListen
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return &Server{
		server: &http.Server{
			Addr:         cfg.Listen,
			Handler:      NewRouter(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		config: cfg,
	}
}

// Start serves requests and blocks until ctx is cancelled or the listener
// fails. Cancellation triggers a graceful shutdown; nil is returned when it
// completes.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("admin server listen on %s: %w", s.config.Listen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Admin server listening", "addr", ln.Addr().String())

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Admin server shutdown signal received")
		// ctx is already cancelled, so shut down on a fresh deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin server failed: %w", err)
	}
}

// Stop gracefully shuts the server down. It is safe to call more than once
// and concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin server shutdown error: %w", err)
			logger.Error("Admin server shutdown error", logger.Err(err))
			return
		}
		logger.Info("Admin server stopped gracefully")
	})
	return shutdownErr
}

// Addr returns the bound listener address, or nil before Start binds it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
