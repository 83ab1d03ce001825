// Package api serves the dashboard HTTP API: device lists, stored scans,
// exports, health, Prometheus metrics and a websocket device feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/reconradar/internal/api/handlers"
	"github.com/anstrom/reconradar/internal/api/middleware"
	"github.com/anstrom/reconradar/internal/config"
	"github.com/anstrom/reconradar/internal/metrics"
	"github.com/anstrom/reconradar/internal/store"
)

const (
	serverShutdownTimeout = 30 * time.Second
	idleTimeout           = 60 * time.Second
	maxHeaderBytes        = 1 << 20
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     config.APIConfig
	logger     *slog.Logger
	metrics    *metrics.PrometheusMetrics
	registry   metrics.MetricsRegistry
	devices    *apihandlers.DeviceHandler
	websocket  *apihandlers.WebSocketHandler
	version    string

	// background work started by middleware ends with the server
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the API server on top of a store.
func New(cfg config.APIConfig, s store.Store, pm *metrics.PrometheusMetrics, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if pm == nil {
		pm = metrics.GetGlobalMetrics()
	}
	logger = logger.With("component", "api")

	server := &Server{
		router:   mux.NewRouter(),
		config:   cfg,
		logger:   logger,
		metrics:  pm,
		registry: metrics.Default(),
		version:  version,
	}
	server.ctx, server.cancel = context.WithCancel(context.Background())

	server.devices = apihandlers.NewDeviceHandler(s, logger)
	server.websocket = apihandlers.NewWebSocketHandler(server.devices.Snapshot, cfg.RefreshInterval,
		cfg.AllowedOrigins, logger).WithGauge(pm)

	server.setupMiddleware()
	server.setupRoutes(s)

	server.httpServer = &http.Server{
		Addr:           cfg.Address(),
		Handler:        server.handler(),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	return server
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(st store.Store) {
	health := apihandlers.NewHealthHandler(st, s.version, s.logger)

	s.router.HandleFunc("/api/health", health.Health).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})).
		Methods(http.MethodGet)

	// registered on the root router so a method mismatch yields 405
	s.router.HandleFunc("/api/devices", s.devices.Devices).Methods(http.MethodGet)
	s.router.HandleFunc("/api/export", s.devices.Export).Methods(http.MethodGet)
	s.router.HandleFunc("/api/scan/{type}", s.devices.ScanType).Methods(http.MethodGet)
	s.router.HandleFunc("/api/scans", s.devices.Scans).Methods(http.MethodGet)
	s.router.HandleFunc("/api/scans/latest/{type}", s.devices.Latest).Methods(http.MethodGet)
	s.router.HandleFunc("/api/scans/combined", s.devices.Combined).Methods(http.MethodGet)

	s.router.Handle("/ws", s.websocket).Methods(http.MethodGet)

	s.router.NotFoundHandler = apihandlers.ErrorHandler(http.StatusNotFound, s.logger)
	s.router.MethodNotAllowedHandler = apihandlers.ErrorHandler(http.StatusMethodNotAllowed, s.logger)
}

// setupMiddleware configures the router middleware chain.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.Metrics(s.registry, s.metrics))
	s.router.Use(middleware.SecurityHeaders())
	if s.config.RateLimit > 0 {
		s.router.Use(middleware.RateLimit(s.ctx, s.config.RateLimit, s.config.RateLimitWindow, s.logger))
	}
	if s.config.APIKeyHash != "" {
		s.router.Use(middleware.Authentication(s.config.APIKeyHash, []string{"/api/health", "/metrics"}, s.logger))
	}
}

// handler wraps the router with CORS, which must see preflight requests
// that match no route.
func (s *Server) handler() http.Handler {
	if len(s.config.AllowedOrigins) == 0 {
		return s.router
	}
	return handlers.CORS(
		handlers.AllowedOrigins(s.config.AllowedOrigins),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-API-Key"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
	)(s.router)
}

// Handler returns the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Notify pushes a fresh device snapshot to websocket clients.
func (s *Server) Notify(reason string) {
	s.websocket.Notify(reason)
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"auth", s.config.APIKeyHash != "")

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.websocket.Run(hubCtx)
	go s.metrics.StartPeriodicUpdates(hubCtx, 15*time.Second)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
