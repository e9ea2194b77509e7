// Package server exposes the regcopilot HTTP API: plain and
// retrieval-augmented chat, document uploads into the shared knowledge
// base, session bookkeeping, and service health.
//
// Chat responses stream as text/plain paragraphs. The response commits
// before generation starts, so anything that fails afterwards is
// delivered as a terminal "Error: ..." paragraph rather than a status
// code.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ovokpus/regcopilot/internal/config"
)

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	http            *http.Server
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// NewServer builds the listener around the given handler. WriteTimeout
// stays zero: chat responses stream until generation finishes.
func NewServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadTimeoutDuration(),
			IdleTimeout:       120 * time.Second,
		},
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeoutDuration(),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Run serves until ctx is canceled, then drains in-flight requests within
// the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.logger.Info("http server listening", "addr", s.http.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
