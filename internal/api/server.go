// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/solargatsby/airdroptool/internal/logging"
	"github.com/solargatsby/airdroptool/internal/models"
	"github.com/solargatsby/airdroptool/internal/service"
	"github.com/solargatsby/airdroptool/internal/storage"
	"github.com/solargatsby/airdroptool/internal/types"
)

// AirdropServiceInterface defines the service operations the API exposes.
type AirdropServiceInterface interface {
	NewAirdrop(ctx context.Context, params service.NewAirdropParams) (*models.AirdropRequest, error)
	RetryAirdrop(ctx context.Context, campaignID int64, receivers []string) (*models.AirdropRequest, error)
	CancelAirdrop(ctx context.Context, campaignID int64) (*models.AirdropRequest, error)
	GetRequest(ctx context.Context, campaignID int64) (*models.AirdropRequest, error)
	GetRequestByID(ctx context.Context, id int64) (*models.AirdropRequest, error)
	ListRequests(ctx context.Context, filter storage.RequestFilter, page types.PageOptions) ([]*models.AirdropRequest, types.PageResult, error)
	GetResults(ctx context.Context, campaignID int64, filter storage.ResultFilter, page types.PageOptions) ([]*models.AirdropResult, types.PageResult, error)
}

// HealthChecker reports backing-store reachability for the health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	airdrops   AirdropServiceInterface
	health     HealthChecker // optional
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, airdrops AirdropServiceInterface, health HealthChecker, logger *logging.Logger) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		router:   mux.NewRouter(),
		airdrops: airdrops,
		health:   health,
		logger:   logger.WithField("component", "api"),
		config:   config,
	}

	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Middleware order matters: the request id must exist before logging runs.
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/airdrops", s.handleNewAirdrop).Methods("POST")
	// Lookup by internal request id; registered before the listing so the
	// query matcher wins.
	api.HandleFunc("/airdrops", s.handleGetAirdropByRequestID).Methods("GET").Queries("requestId", "{requestId}")
	api.HandleFunc("/airdrops", s.handleListAirdrops).Methods("GET")
	api.HandleFunc("/airdrops/{campaignId}", s.handleGetAirdrop).Methods("GET")
	api.HandleFunc("/airdrops/{campaignId}/results", s.handleGetResults).Methods("GET")
	api.HandleFunc("/airdrops/{campaignId}/retry", s.handleRetryAirdrop).Methods("POST")
	api.HandleFunc("/airdrops/{campaignId}/cancel", s.handleCancelAirdrop).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, map[string]string{
		"status":  status,
		"service": "airdrop-tool",
	})
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
