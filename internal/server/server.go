// Package server exposes the coordinator over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/server/handler"
	"github.com/alanyoungcy/setrebalancer/internal/server/middleware"
	"github.com/alanyoungcy/setrebalancer/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit caps submitting requests per client per RateWindow. Zero
	// disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Archives may
// be nil when object storage is not configured.
type Handlers struct {
	Health      *handler.HealthHandler
	Baskets     *handler.BasketHandler
	Bids        *handler.BidHandler
	Pools       *handler.PoolHandler
	Submissions *handler.SubmissionHandler
	Archives    *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging,
// auth and rate limiting. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	register(mux, handlers, wsHub)

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Submitting with ?wait=true blocks until the transaction is mined.
			WriteTimeout: 6 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

func register(mux *http.ServeMux, h Handlers, wsHub *ws.Hub) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/baskets/{address}", h.Baskets.GetBasket)
	mux.HandleFunc("GET /api/baskets/{address}/auction", h.Baskets.GetAuction)
	mux.HandleFunc("GET /api/baskets/{address}/proposal", h.Baskets.GetProposal)
	mux.HandleFunc("POST /api/baskets/{address}/proposals", h.Baskets.Propose)
	mux.HandleFunc("POST /api/baskets/{address}/proposals/validate", h.Baskets.ValidatePropose)
	mux.HandleFunc("POST /api/baskets/{address}/start", h.Baskets.StartRebalance)
	mux.HandleFunc("POST /api/baskets/{address}/settle", h.Baskets.SettleRebalance)
	mux.HandleFunc("POST /api/baskets/{address}/end-failed", h.Baskets.EndFailedAuction)

	mux.HandleFunc("POST /api/baskets/{address}/bids/quote", h.Bids.Quote)
	mux.HandleFunc("POST /api/baskets/{address}/bids", h.Bids.PlaceBid)

	mux.HandleFunc("POST /api/pools/{address}/allocation", h.Pools.UpdateAllocation)
	mux.HandleFunc("POST /api/pools/{address}/fees", h.Pools.AdjustFee)
	mux.HandleFunc("POST /api/pools/{address}/fees/finalize", h.Pools.FinalizeFee)
	mux.HandleFunc("DELETE /api/pools/{address}/fees/{hash}", h.Pools.RemoveFeeUpdate)

	mux.HandleFunc("GET /api/submissions", h.Submissions.ListSubmissions)
	mux.HandleFunc("GET /api/submissions/{id}", h.Submissions.GetSubmission)

	if h.Archives != nil {
		mux.HandleFunc("GET /api/archives", h.Archives.ListArchives)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
