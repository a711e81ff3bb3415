package http

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the driving ports the API exposes
type Services struct {
	Auth        driving.AuthService // Optional: nil disables bearer tokens
	Pipeline    driving.PipelineService
	Documents   driving.DocumentService
	Parties     driving.PartyService
	Commitments driving.CommitmentService
	Audit       driving.AuditService
	Scheduler   driving.SchedulerService // Optional: nil hides the schedule routes
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	version    string
	logger     *slog.Logger

	maxUploadBytes int64
	authRequired   bool
	allowedOrigins []string

	// Services
	authService   driving.AuthService
	pipeline      driving.PipelineService
	docService    driving.DocumentService
	partyService  driving.PartyService
	commitService driving.CommitmentService
	auditService  driving.AuditService
	schedService  driving.SchedulerService

	// Infrastructure
	taskQueue driven.TaskQueue
	checks    map[string]Pinger
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string

	// MaxUploadBytes bounds request bodies on the upload route
	MaxUploadBytes int64

	// AuthRequired rejects requests without a valid bearer token.
	// When false, tokens are still validated if present.
	AuthRequired bool

	AllowedOrigins []string
	Logger         *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		Version:        "dev",
		MaxUploadBytes: domain.DefaultContentConfig().MaxBytes,
	}
}

// NewServer creates a new HTTP server. checks names the dependencies pinged
// by /ready; taskQueue may be nil when background processing is disabled.
func NewServer(cfg Config, svc Services, taskQueue driven.TaskQueue, checks map[string]Pinger) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = domain.DefaultContentConfig().MaxBytes
	}

	s := &Server{
		router:         http.NewServeMux(),
		version:        cfg.Version,
		logger:         logger,
		maxUploadBytes: maxUpload,
		authRequired:   cfg.AuthRequired,
		allowedOrigins: cfg.AllowedOrigins,
		authService:    svc.Auth,
		pipeline:       svc.Pipeline,
		docService:     svc.Documents,
		partyService:   svc.Parties,
		commitService:  svc.Commitments,
		auditService:   svc.Audit,
		schedService:   svc.Scheduler,
		taskQueue:      taskQueue,
		checks:         checks,
	}

	s.setupRoutes()
	s.handler = s.wrap(s.router)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.handler,
		// Synchronous uploads wait on recognition
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// wrap applies the global middleware chain
func (s *Server) wrap(h http.Handler) http.Handler {
	h = NewLoggingMiddleware(s.logger).Handler(h)
	if len(s.allowedOrigins) > 0 {
		h = NewCORSMiddleware(s.allowedOrigins).Handler(h)
	}
	return NewRecoveryMiddleware(s.logger).Handler(h)
}

// Handler returns the fully wrapped request handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	auth := NewAuthMiddleware(s.authService, s.authRequired)
	read := func(h http.HandlerFunc) http.Handler {
		return auth.Authenticate(h)
	}
	write := func(h http.HandlerFunc) http.Handler {
		return auth.Authenticate(auth.RequireWriter(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return auth.Authenticate(auth.RequireAdmin(h))
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Uploads
	s.router.Handle("POST /api/v1/uploads", write(s.handleUpload))

	// Documents
	s.router.Handle("GET /api/v1/documents/{id}", read(s.handleGetDocument))
	s.router.Handle("GET /api/v1/documents/{id}/download", read(s.handleDownloadDocument))
	s.router.Handle("DELETE /api/v1/documents/{id}", admin(s.handleDeleteDocument))

	// Parties
	s.router.Handle("GET /api/v1/parties", read(s.handleListParties))
	s.router.Handle("POST /api/v1/parties/resolve", write(s.handleResolveParty))
	s.router.Handle("GET /api/v1/parties/{id}", read(s.handleGetParty))
	s.router.Handle("GET /api/v1/parties/{id}/history", read(s.handlePartyHistory))
	s.router.Handle("GET /api/v1/parties/{id}/commitments", read(s.handleListPartyCommitments))

	// Commitments
	s.router.Handle("GET /api/v1/commitments/{id}", read(s.handleGetCommitment))
	s.router.Handle("POST /api/v1/commitments/{id}/fulfill", write(s.handleFulfillCommitment))
	s.router.Handle("POST /api/v1/commitments/{id}/cancel", write(s.handleCancelCommitment))
	s.router.Handle("PATCH /api/v1/commitments/{id}/factors", write(s.handleUpdateFactors))

	// Audit trail
	s.router.Handle("GET /api/v1/interactions", read(s.handleListInteractions))

	// Priority
	s.router.Handle("POST /api/v1/priority/preview", read(s.handlePreviewPriority))

	// Admin
	s.router.Handle("POST /api/v1/admin/rescore", admin(s.handleRescore))
	s.router.Handle("GET /api/v1/admin/queue", admin(s.handleQueueStats))
	if s.schedService != nil {
		s.router.Handle("GET /api/v1/admin/schedules", admin(s.handleListSchedules))
		s.router.Handle("GET /api/v1/admin/schedules/{id}", admin(s.handleGetSchedule))
		s.router.Handle("POST /api/v1/admin/schedules/{id}/enable", admin(s.handleEnableSchedule))
		s.router.Handle("POST /api/v1/admin/schedules/{id}/disable", admin(s.handleDisableSchedule))
		s.router.Handle("POST /api/v1/admin/schedules/{id}/trigger", admin(s.handleTriggerSchedule))
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
