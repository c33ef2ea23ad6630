// Package server exposes the bot's read API, operator control and event
// stream over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/server/handler"
	"github.com/alanyoungcy/snipebot/internal/server/middleware"
	"github.com/alanyoungcy/snipebot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AuthToken guards every /api route except health. POST /api/control
	// is refused outright when it is empty.
	AuthToken string
	// RequestsPerMinute limits each client IP. Zero disables the limit.
	RequestsPerMinute int
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// leave their routes unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Trades    *handler.TradeHandler
	Stats     *handler.StatsHandler
	Control   *handler.ControlHandler
	Archives  *handler.ArchiveHandler
	Metrics   http.Handler
}

// Server is the HTTP and websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in rate limiting,
// request logging and CORS. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()
	guard := middleware.Auth(cfg.AuthToken)

	route := func(pattern string, h http.HandlerFunc, wrap func(http.Handler) http.Handler) {
		if wrap == nil {
			mux.Handle(pattern, h)
			return
		}
		mux.Handle(pattern, wrap(h))
	}

	if handlers.Health != nil {
		route("GET /api/health", handlers.Health.HealthCheck, nil)
	}
	if handlers.Status != nil {
		route("GET /api/status", handlers.Status.GetStatus, guard)
	}
	if handlers.Positions != nil {
		route("GET /api/positions", handlers.Positions.ListPositions, guard)
	}
	if handlers.Trades != nil {
		route("GET /api/trades", handlers.Trades.ListTrades, guard)
	}
	if handlers.Stats != nil {
		route("GET /api/stats", handlers.Stats.GetStats, guard)
	}
	if handlers.Archives != nil {
		route("GET /api/archives", handlers.Archives.ListArchives, guard)
		route("GET /api/archives/file", handlers.Archives.GetArchive, guard)
	}
	if handlers.Control != nil {
		route("POST /api/control", handlers.Control.Control, middleware.RequireToken(cfg.AuthToken))
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if hub != nil {
		route("GET /ws", hub.HandleWS, guard)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RequestsPerMinute, time.Minute)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Flatten waits for sells to confirm.
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
