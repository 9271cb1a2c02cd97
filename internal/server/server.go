// ABOUTME: HTTP server hosting the NSI callback endpoint and operator API
// ABOUTME: Owns the sweep loops and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anaeng/aura/internal/engine"
	"github.com/anaeng/aura/internal/store"
	"github.com/anaeng/aura/internal/timeout"
)

// CallbackPath is where the provider POSTs asynchronous messages; it must
// match the path of the configured reply_to_url.
const CallbackPath = "/nsi/callback"

// scheduleSweepInterval paces the passed-end-time check. Schedule edges
// are minutes apart, so a coarse interval is enough.
const scheduleSweepInterval = 30 * time.Second

// Server hosts the callback listener and the operator API.
type Server struct {
	addr          string
	engine        *engine.Engine
	store         store.Store
	timeouts      *timeout.Manager
	sweepInterval time.Duration
	logger        *slog.Logger

	httpServer *http.Server
}

// New creates a Server. The timeout manager's sweep loop is started by Run.
func New(addr string, eng *engine.Engine, st store.Store, timeouts *timeout.Manager, sweepInterval time.Duration, logger *slog.Logger) *Server {
	s := &Server{
		addr:          addr,
		engine:        eng,
		store:         st,
		timeouts:      timeouts,
		sweepInterval: sweepInterval,
		logger:        logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, s.handleCallback)
	mux.HandleFunc("/api/connections", s.handleConnections)
	mux.HandleFunc("/api/connections/", s.handleConnectionRoutes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	sweepCtx, cancelSweeps := context.WithCancel(ctx)
	defer cancelSweeps()

	go s.timeouts.Run(sweepCtx, s.sweepInterval)
	go s.runScheduleSweep(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) runScheduleSweep(ctx context.Context) {
	ticker := time.NewTicker(scheduleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.engine.SweepSchedules(ctx)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Ready means the store answers.
	if _, err := s.store.ListConnections(r.Context(), false); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ready")
}
