package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dkoval/scriptbox/config"
	"github.com/dkoval/scriptbox/coordinator"
)

// SecretHeader carries the caller's shared-secret credential.
const SecretHeader = "X-Sandbox-Secret"

// Server is the HTTP boundary in front of the coordinator.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	coord  *coordinator.Coordinator
	router chi.Router
	http   *http.Server
}

// New creates a Server with its routes installed.
func New(cfg *config.Config, logger *zap.Logger, coord *coordinator.Coordinator) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		coord:  coord,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	// Health stays unauthenticated so orchestration layers can probe it.
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)
		r.Use(s.requireSecret)

		r.Post("/execute", s.handleExecute)
		r.Post("/validate", s.handleValidate)
		r.Get("/metrics", s.handleMetrics)
	})
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// requireSecret authenticates every API request. The rejection carries no
// detail beyond the fact that the credential was invalid.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.coord.Authenticate(r.Header.Get(SecretHeader)) {
			writeError(w, http.StatusUnauthorized, "invalid credential")
			return
		}
		next.ServeHTTP(w, r)
	})
}
