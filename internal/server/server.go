// Package server exposes the read-only status API for registered features.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"market-watch/internal/core"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config   *core.Config
	logger   *core.Logger
	registry *core.Registry
	server   *http.Server
}

func New(config *core.Config, logger *core.Logger, registry *core.Registry) *Server {
	srv := &Server{
		config:   config,
		logger:   logger.ForFeature("server"),
		registry: registry,
	}
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(requestIDContext)
	mux.Use(middleware.Logger)

	mux.Get("/health", s.healthHandler)

	// Feature routes come from the registry
	for _, route := range s.registry.GetAllRoutes() {
		mux.Method(route.Method, route.Path, route.Handler)
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting status API", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status API failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down status API")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	features := s.registry.GetFeatureStatus()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"service":  "market-watch",
		"features": features,
	})
}

// requestIDContext copies chi's request ID to where core.Logger looks for it.
func requestIDContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(core.ContextWithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
