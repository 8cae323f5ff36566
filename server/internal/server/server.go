// Package server ties the room server components together.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/huddle-chat/huddle/server/internal/agent"
	"github.com/huddle-chat/huddle/server/internal/api"
	"github.com/huddle-chat/huddle/server/internal/auth"
	"github.com/huddle-chat/huddle/server/internal/config"
	"github.com/huddle-chat/huddle/server/internal/realtime"
	"github.com/huddle-chat/huddle/server/internal/store"
)

const shutdownTimeout = 30 * time.Second

// Server is the room server process.
type Server struct {
	cfg    *config.Config
	store  store.Store
	hub    *realtime.Hub
	api    *api.Server
	logger *slog.Logger
}

// New creates a server from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authSvc := auth.NewService(db, cfg.Auth)

	hub := realtime.New(db, authSvc, agent.Echo{}, logger, realtime.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		AgentName:       cfg.Agent.Name,
		ThinkDelay:      cfg.Agent.ThinkDelay.Duration,
	})

	apiSrv := api.NewServer(db, authSvc, hub, cfg, logger)

	s := &Server{
		cfg:    cfg,
		store:  db,
		hub:    hub,
		api:    apiSrv,
		logger: logger.With("component", "server"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			s.logger.Warn("allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}

	return s, nil
}

// Run serves HTTP on the configured address until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		s.closeAll()
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is canceled, then shuts down the
// listener, the live sessions and the store in that order.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.api.StartBackgroundTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gracefully")

		// Hijacked WebSocket connections are not tracked by Shutdown.
		s.hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			s.logger.Info("http server stopped gracefully")
		}

		s.logger.Info("closing store")
		_ = s.store.Close()
		s.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		s.closeAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) closeAll() {
	s.hub.Close()
	_ = s.store.Close()
}
