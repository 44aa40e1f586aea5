// Package server hosts the sharegate HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/server/handler"
	"github.com/alanyoungcy/sharegate/internal/server/middleware"
	"github.com/alanyoungcy/sharegate/internal/server/ws"
)

// Signature attempts per client IP. The window comfortably covers a
// challenge's lifetime.
const (
	verifyRateLimit  = 10
	verifyRateWindow = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers. Archives is
// optional and its route is omitted when nil.
type Handlers struct {
	Health   *handler.HealthHandler
	Agents   *handler.AgentHandler
	Users    *handler.UserHandler
	Verify   *handler.VerifyHandler
	Archives *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil,
// in which case the verification endpoint runs unthrottled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Wallet verification, rate limited per client IP.
	var verify http.Handler = http.HandlerFunc(handlers.Verify.VerifySignature)
	if limiter != nil {
		verify = middleware.RateLimit(limiter, verifyRateLimit, verifyRateWindow)(verify)
	}
	mux.Handle("POST /api/verify-signature", verify)

	// Agent registry.
	mux.HandleFunc("POST /api/agents", handlers.Agents.CreateAgent)
	mux.HandleFunc("GET /api/agents", handlers.Agents.ListAgents)
	mux.HandleFunc("GET /api/agents/{name}", handlers.Agents.GetAgent)
	mux.HandleFunc("GET /api/agents/{name}/detail", handlers.Agents.GetAgentDetail)

	// Holdings.
	mux.HandleFunc("GET /api/users/{address}/shares", handlers.Users.GetShares)

	// Cold-storage archive listing, registered only when archival runs.
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the server's root handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens for HTTP requests and blocks until the server fails or is
// shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
