// Package api exposes the pipeline over HTTP: submission, approval,
// ledger queries, and the administrative kill switch.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/pipeline"
)

// QueueDepther reports how many jobs are waiting for delivery.
type QueueDepther interface {
	Depth(ctx context.Context) (int, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the bearer token required on every protected route.
	APIKey string
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	svc       *pipeline.Service
	queue     QueueDepther
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server over the pipeline service.
func New(config Config, svc *pipeline.Service, queue QueueDepther, hub *events.Hub) *Server {
	return &Server{
		config:    config,
		svc:       svc,
		queue:     queue,
		hub:       hub,
		logger:    log.WithComponent("api"),
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // SSE clients hold the connection open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Routes configures the HTTP router.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/command", s.handleSubmit)
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/approval", s.handleApproval)
		r.Post("/approval/token", s.handleApprovalToken)
		r.Get("/approvals", s.handleListApprovals)
		r.Get("/ledger", s.handleLedgerQuery)
		r.Get("/ledger/verify", s.handleLedgerVerify)
		r.Get("/ledger/{entryID}", s.handleLedgerGet)
		r.Put("/kill_switch", s.handleKillSwitch)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
