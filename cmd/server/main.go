package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/copyleftdev/nmrmix/internal/config"
	apperrors "github.com/copyleftdev/nmrmix/internal/errors"
	"github.com/copyleftdev/nmrmix/internal/library"
	"github.com/copyleftdev/nmrmix/internal/logging"
	"github.com/copyleftdev/nmrmix/internal/metrics"
	"github.com/copyleftdev/nmrmix/internal/server"
	"github.com/copyleftdev/nmrmix/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use standard logger as fallback if config loading fails
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize base logger
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Create a service logger with additional fields
	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "nmrmix-server",
		"version": "1.0.0",
	})

	opts := []server.Option{}

	m := metrics.New("nmrmix")
	opts = append(opts, server.WithMetrics(m))

	if cfg.Database.DSN != "" {
		st, err := store.Open(cfg.Database.DSN)
		if err != nil {
			serviceLogger.WithError(err).Fatal("Failed to open run store", map[string]interface{}{
				"type": cfg.Database.Type,
			})
		}
		defer st.Close()
		opts = append(opts, server.WithStore(st))
	}

	if cfg.Optimization.Library != "" {
		lib, err := loadLibrary(cfg.Optimization.Library)
		if err != nil {
			serviceLogger.WithError(err).Fatal("Failed to load library", map[string]interface{}{
				"path": cfg.Optimization.Library,
			})
		}
		serviceLogger.Info("Library loaded", map[string]interface{}{
			"path":      cfg.Optimization.Library,
			"compounds": lib.Len(),
		})
		opts = append(opts, server.WithLibrary(lib))
	}

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))

	// Error handling and recovery
	r.Use(apperrors.RecoveryMiddleware(serviceLogger))
	r.Use(apperrors.ErrorHandler(serviceLogger))

	r.Use(middleware.Timeout(60 * time.Second))

	// Add request context logger
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxLogger := logging.FromContext(r.Context())
			if ctxLogger == nil {
				ctxLogger = &logging.CtxLogger{Logger: logger}
			}

			reqLogger := ctxLogger.Logger.WithFields(map[string]interface{}{
				"request_id": middleware.GetReqID(r.Context()),
			})

			reqCtxLogger := &logging.CtxLogger{Logger: reqLogger}
			next.ServeHTTP(w, r.WithContext(reqCtxLogger.WithContext(r.Context())))
		})
	})

	// Add health check endpoint
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if logger := logging.FromContext(r.Context()); logger != nil {
			logger.Debug("Health check")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Add metrics endpoint
	r.Handle("/metrics", m.Handler())

	srv, err := server.NewServer(cfg, serviceLogger, opts...)
	if err != nil {
		serviceLogger.WithError(err).Fatal("Failed to create server")
	}
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start HTTP server
	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address": httpServer.Addr,
		})

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Running jobs are cancelled and persisted before the store closes.
	if err := srv.Close(); err != nil {
		serviceLogger.WithError(err).Error("error closing server resources")
	}

	serviceLogger.Info("server exited properly")
}

func loadLibrary(path string) (*library.Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lib, _, err := library.Load(f)
	return lib, err
}
