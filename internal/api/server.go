package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/sessionfleet/internal/auth"
	"github.com/marmos91/sessionfleet/internal/config"
	"github.com/marmos91/sessionfleet/internal/fleet"
	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/pairing"
	"github.com/marmos91/sessionfleet/internal/sessionstore"
)

// Server serves the REST surface with graceful shutdown, the same
// goroutine/errChan/context.Done shape the teacher's control-plane API uses.
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once
}

// NewServer builds a Server bound to cfg.Port.
func NewServer(cfg config.APIConfig, jwtService *auth.Service, accounts *sessionstore.AccountStore, fleetMgr *fleet.Manager, sessions *sessionstore.Store, pairingCoord *pairing.Coordinator) *Server {
	router := NewRouter(jwtService, accounts, fleetMgr, sessions, pairingCoord)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		port: cfg.Port,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("api server failed: %w", err)
	}
}

// Stop gracefully shuts the server down; safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("api server shutdown: %w", shutdownErr)
			return
		}
		logger.Info("API server stopped gracefully")
	})
	return err
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int { return s.port }
