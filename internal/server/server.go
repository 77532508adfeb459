// Package server runs the HTTP listener, access logging and shutdown handling.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/util"
)

// Server manages the listener, the http.Server and the signal-driven lifecycle.
type Server struct {
	cfg *config.Config
	log *logger.Logger

	httpServer *http.Server

	mu       sync.RWMutex
	listener net.Listener

	shutdownOnce sync.Once
	shutdownErr  error // set before doneChan is closed
	doneChan     chan struct{}
}

// NewServer wraps handler with access logging and prepares an http.Server for
// cfg. The listener is not bound until Listen or Start.
func NewServer(cfg *config.Config, lg *logger.Logger, handler http.Handler) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if cfg.Server == nil || cfg.Server.Address == nil || *cfg.Server.Address == "" {
		return nil, fmt.Errorf("server listen address (server.address) is not configured")
	}

	hs := &http.Server{
		Handler: AccessLogMiddleware(handler, lg),
	}
	if cfg.Server.ReadHeaderTimeout != nil {
		hs.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout.Value()
	}

	return &Server{
		cfg:        cfg,
		log:        lg,
		httpServer: hs,
		doneChan:   make(chan struct{}),
	}, nil
}

// Listen binds the configured address. Calling it again after a successful
// bind is a no-op.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	address := *s.cfg.Server.Address
	ln, err := util.CreateListener("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener on %s: %w", address, err)
	}
	maxConns := 0
	if s.cfg.Server.MaxConnections != nil {
		maxConns = *s.cfg.Server.MaxConnections
	}
	s.listener = util.LimitListener(ln, maxConns)

	s.log.Info("Listener created", logger.LogFields{
		"address":         address,
		"localAddr":       ln.Addr().String(),
		"max_connections": maxConns,
	})
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves until the server is shut down, either through Shutdown or by
// SIGINT/SIGTERM. SIGHUP reopens file log targets. It returns nil after a
// graceful shutdown and the shutdown error when in-flight requests had to be
// dropped.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	for {
		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				<-s.doneChan
				if s.shutdownErr != nil {
					return fmt.Errorf("graceful shutdown failed: %w", s.shutdownErr)
				}
				return nil
			}
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				s.log.Info("Received SIGHUP, reopening log files", nil)
				if err := s.log.ReopenLogFiles(); err != nil {
					s.log.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
				}
			default:
				s.log.Info("Received signal, shutting down", logger.LogFields{"signal": sig.String()})
				ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
				err := s.Shutdown(ctx)
				cancel()
				if err != nil {
					s.log.Warn("Graceful shutdown did not complete", logger.LogFields{"error": err.Error()})
				}
			}
		}
	}
}

// Shutdown stops accepting connections and waits for in-flight requests until
// ctx is done. Only the first call has any effect.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		defer close(s.doneChan)
		err = s.httpServer.Shutdown(ctx)
		if err != nil {
			// Drop whatever is still running.
			if cerr := s.httpServer.Close(); cerr != nil {
				s.log.Warn("Failed to close server after shutdown timeout", logger.LogFields{"error": cerr.Error()})
			}
		}
		// Serve closes its listener itself; this covers Listen without Start.
		s.mu.RLock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.mu.RUnlock()
		s.shutdownErr = err
		if err == nil {
			s.log.Info("Server stopped", nil)
		}
	})
	return err
}

// Done is closed once Shutdown has finished.
func (s *Server) Done() <-chan struct{} {
	return s.doneChan
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.GracefulShutdownTimeout != nil {
		return s.cfg.Server.GracefulShutdownTimeout.Value()
	}
	return config.DefaultGracefulShutdownTimeout
}
