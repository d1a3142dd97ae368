// Package api exposes team analyses over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service/team"
)

// Coordinator runs one team analysis.
type Coordinator interface {
	Coordinate(ctx context.Context, req team.CoordinateRequest) (*core.TeamAnalysisResult, error)
	Registry() *team.Registry
}

// Archive stores analyses and serves stored reports.
type Archive interface {
	SaveAnalysis(ctx context.Context, r *core.TeamAnalysisResult) (string, error)
	List(ctx context.Context, kind store.Kind, limit int) ([]store.Record, error)
	Get(ctx context.Context, id string, v any) (store.Record, error)
}

// Server provides the HTTP endpoints.
type Server struct {
	router         chi.Router
	coordinator    Coordinator
	breakers       *service.BreakerRegistry
	limiter        *service.RateLimiter
	archive        Archive
	allowedOrigins []string
	requestTimeout time.Duration
	logger         *logging.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithResilience exposes breaker and limiter state on /api/v1/resilience.
func WithResilience(breakers *service.BreakerRegistry, limiter *service.RateLimiter) ServerOption {
	return func(s *Server) {
		s.breakers = breakers
		s.limiter = limiter
	}
}

// WithArchive stores every successful analysis and enables /api/v1/reports.
func WithArchive(a Archive) ServerOption {
	return func(s *Server) {
		s.archive = a
	}
}

// WithAllowedOrigins sets the CORS origins. Empty allows any origin.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRequestTimeout bounds each request, analyses included.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// NewServer creates a server over coordinator.
func NewServer(coordinator Coordinator, opts ...ServerOption) *Server {
	s := &Server{
		coordinator:    coordinator,
		requestTimeout: 10 * time.Minute,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(s.loggingMiddleware)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}).Handler)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/specialties", s.handleListSpecialties)
		r.Post("/analyses", s.handleCreateAnalysis)
		r.Get("/resilience", s.handleResilience)
		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.handleListReports)
			r.Get("/{reportID}", s.handleGetReport)
		})
	})
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
