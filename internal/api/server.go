// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/marketplace-relay/internal/logging"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/service"
)

// Service interfaces for dependency injection and testing

// DelegateServiceInterface defines the interface for delegated submissions
type DelegateServiceInterface interface {
	MintPlatform(ctx context.Context, req service.MintPlatformRequest) (*service.DelegateResult, error)
	CreateProposal(ctx context.Context, req service.CreateProposalRequest) (*service.DelegateResult, error)
	MintReview(ctx context.Context, req service.MintReviewRequest) (*service.DelegateResult, error)
}

// DispatchRunner defines the interface for triggering one dispatch run
type DispatchRunner interface {
	Run(ctx context.Context, input service.RunInput) (service.RunStats, error)
}

// StatsProvider defines the interface for the notification activity report
type StatsProvider interface {
	Snapshot(ctx context.Context) (*service.Stats, error)
}

// UserServiceInterface defines the interface for account lifecycle operations
type UserServiceInterface interface {
	Register(ctx context.Context, email string) (*models.User, error)
	ValidateProfile(ctx context.Context, userID, address, talentLayerID, signature string) (*models.User, error)
	VerifyEmail(ctx context.Context, userID string) error
}

// Server represents the HTTP API server.
type Server struct {
	router          *mux.Router
	httpServer      *http.Server
	delegateService DelegateServiceInterface
	dispatchers     map[string]DispatchRunner
	statsService    StatsProvider
	userService     UserServiceInterface
	config          *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	DispatchSecret  string
	DelegateRPS     int
	DelegateBurst   int
}

// NewServer creates a new API server instance. dispatchers is keyed by the
// notify route suffix, e.g. "proposal-validated".
func NewServer(
	config *ServerConfig,
	delegateService DelegateServiceInterface,
	dispatchers map[string]DispatchRunner,
	statsService StatsProvider,
	userService UserServiceInterface,
) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		delegateService: delegateService,
		dispatchers:     dispatchers,
		statsService:    statsService,
		userService:     userService,
		config:          config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
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
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Delegated submission endpoints, rate limited per caller
	delegate := api.PathPrefix("/delegate").Subrouter()
	delegate.Use(RateLimitMiddleware(NewRateLimiter(s.config.DelegateRPS, s.config.DelegateBurst)))
	delegate.HandleFunc("/platform", s.handleDelegatePlatform).Methods("POST")
	delegate.HandleFunc("/proposal", s.handleDelegateProposal).Methods("POST")
	delegate.HandleFunc("/mint-review", s.handleDelegateMintReview).Methods("POST")

	// Dispatch endpoints, guarded by the shared secret
	notify := api.PathPrefix("/notify").Subrouter()
	notify.Use(SecretMiddleware(s.config.DispatchSecret))
	notify.HandleFunc("/stats", s.handleNotifyStats).Methods("GET")
	notify.HandleFunc("/{emailType}", s.handleNotifyRun).Methods("GET")

	// Account endpoints
	api.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	api.HandleFunc("/users/{id}/validate", s.handleValidateUser).Methods("POST")
	api.HandleFunc("/users/{id}/verify-email", s.handleVerifyEmail).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "marketplace-relay",
	})
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.GetGlobalLogger().WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
