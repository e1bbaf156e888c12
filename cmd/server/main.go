package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lychee-technology/formsync"
	"github.com/lychee-technology/formsync/factory"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server in front of a SyncManager
type Server struct {
	manager formsync.SyncManager
	mux     *http.ServeMux
}

// NewServer creates a new Server instance
func NewServer(manager formsync.SyncManager) *Server {
	return &Server{
		manager: manager,
		mux:     http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes(metricsPath string) {
	s.mux.HandleFunc("GET /api/forms", s.handleListForms)
	s.mux.HandleFunc("POST /api/sync/{formId}", s.handleSyncForm)
	s.mux.HandleFunc("POST /api/sync", s.handleSyncAll)
	s.mux.HandleFunc("POST /api/members/sync", s.handleSyncMembers)
	s.mux.HandleFunc("GET /api/members/search", s.handleSearchMembers)
	s.mux.HandleFunc("GET /api/tasks/{taskId}", s.handleTaskStatus)
	s.mux.HandleFunc("DELETE /api/tasks/{taskId}", s.handleCancelTask)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/suggest", s.handleSuggest)
	s.mux.HandleFunc("GET /api/records/{formId}/{recordId}", s.handleGetRecord)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if metricsPath != "" {
		s.mux.Handle("GET "+metricsPath, promhttp.Handler())
	}
}

// Handler returns the routed handler wrapped with request logging
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

func main() {
	factory.LoadDotEnv(".env", "../.env")
	config := factory.ConfigFromEnv()

	logger, err := factory.NewLogger(config.Logging.Level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := factory.NewSyncManagerWithConfig(ctx, config)
	if err != nil {
		sugar.Fatalf("failed to create sync manager: %v", err)
	}
	defer manager.Close()

	server := NewServer(manager)
	metricsPath := ""
	if config.Metrics.Enabled {
		metricsPath = config.Metrics.Path
	}
	server.RegisterRoutes(metricsPath)

	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("starting server", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("graceful shutdown failed", "error", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
