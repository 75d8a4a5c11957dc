// Package server runs the relay's HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/brizzai/token-relay/internal/config"
	"github.com/brizzai/token-relay/internal/logger"
	"github.com/brizzai/token-relay/internal/server/handler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// defaultShutdownTimeout is the maximum time to wait for server shutdown
const defaultShutdownTimeout = 5 * time.Second

// Server owns the listener and the HTTP server around the relay handler
type Server struct {
	config  *config.ServerConfig
	handler *handler.Handler
	ready   chan net.Addr
}

// NewServer creates a new server instance with the provided configuration.
func NewServer(cfg *config.ServerConfig, h *handler.Handler) *Server {
	return &Server{
		config:  cfg,
		handler: h,
		ready:   make(chan net.Addr, 1),
	}
}

// Ready yields the bound address once the server accepts connections
func (s *Server) Ready() <-chan net.Addr {
	return s.ready
}

// Start serves until ctx is cancelled, then shuts down gracefully.
// It returns an error if the server fails to start or encounters an error during operation.
func (s *Server) Start(ctx context.Context) error {
	return s.serveHTTP(ctx, s.handler.CreateHTTPHandler())
}

func (s *Server) serveHTTP(ctx context.Context, handler http.Handler) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	server := &http.Server{
		Handler:           handler,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger.Info("Starting server", zap.String("address", ln.Addr().String()))
	s.signalReady(ln.Addr())

	// Channel for server errors
	errChan := make(chan error, 1)

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	shutdownTimeout := s.config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down server", zap.Duration("timeout", shutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil

	case err := <-errChan:
		return err
	}
}

// signalReady publishes addr without blocking, replacing an address left unread by an earlier Start
func (s *Server) signalReady(addr net.Addr) {
	select {
	case <-s.ready:
	default:
	}
	select {
	case s.ready <- addr:
	default:
	}
}

// Module provides the HTTP server and its handler
var Module = fx.Module("server",
	fx.Provide(
		handler.NewHandler,
		NewServer,
	),
)
