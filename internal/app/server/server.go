package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"stranger/internal/app/server/handlers"
	"stranger/internal/app/server/ws"
	"stranger/internal/config"
	"stranger/internal/core/contracts"
	"stranger/internal/core/domain"
	"stranger/pkg/middleware"
)

// Deps are the collaborators the HTTP surface routes to. Matches may be nil
// when no match store is configured.
type Deps struct {
	Registry contracts.Registry
	Engine   ws.FrameHandler
	Checks   map[string]handlers.Pinger
	Metrics  http.Handler
	Matches  domain.MatchRepository
}

type Server struct {
	mux           *http.ServeMux
	httpServer    *http.Server
	cfg           config.Config
	log           *slog.Logger
	wsHandler     *handlers.WSHandler
	healthHandler *handlers.HealthHandler
	matchHandler  *handlers.MatchHandler
	metrics       http.Handler
}

func NewServer(cfg config.Config, log *slog.Logger, deps Deps) *Server {
	s := &Server{
		mux:           http.NewServeMux(),
		cfg:           cfg,
		log:           log,
		wsHandler:     handlers.NewWSHandler(deps.Registry, deps.Engine, cfg.Session),
		healthHandler: handlers.NewHealthHandler(deps.Checks, deps.Registry.OnlineCount, 2*time.Second),
		metrics:       deps.Metrics,
	}
	if deps.Matches != nil {
		s.matchHandler = handlers.NewMatchHandler(deps.Matches, cfg.Session.KeyParam)
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Service.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET "+s.cfg.Session.Path, s.wsHandler.Handler)
	s.mux.HandleFunc("GET /healthz", s.healthHandler.Handler)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	if s.matchHandler != nil {
		s.mux.HandleFunc("GET /matches", s.matchHandler.Recent)
	}
}

// Handler is the routed mux behind the tracing and logging middleware.
func (s *Server) Handler() http.Handler {
	return middleware.TracerMiddleware(s.cfg.Service.Name, s.mux)(
		middleware.RequestLogger(s.log)(s.mux),
	)
}

// Start serves until ctx is cancelled, then drains in-flight HTTP requests.
// Hijacked websocket connections are not tracked by http.Server; they end
// when the registry is closed.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server - start - listening", "addr", s.cfg.Service.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", s.cfg.Service.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("server - shutdown - graceful shutdown failed", "err", err)
		return err
	}
	s.log.Info("server - shutdown - stopped accepting connections")
	return nil
}
