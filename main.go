package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/campus-dx/grant-engine/internal/config"
	"github.com/campus-dx/grant-engine/pkg/monitoring"
	"github.com/campus-dx/grant-engine/v1/auth"
	"github.com/campus-dx/grant-engine/v1/database"
	"github.com/campus-dx/grant-engine/v1/handlers"
	"github.com/campus-dx/grant-engine/v1/router"
	"github.com/campus-dx/grant-engine/v1/services"
	"github.com/campus-dx/grant-engine/v1/storage"
)

func main() {
	// Load .env file if it exists (optional - fails silently if not found)
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogger(cfg.Logging)

	slog.Info("Starting grant engine", "environment", cfg.Environment, "port", cfg.Service.Port)

	shutdownMetrics, err := monitoring.Setup(context.Background(), monitoring.Config{
		ServiceName:   cfg.Service.Name,
		ResourceAttrs: map[string]string{"deployment.environment": cfg.Environment},
	})
	if err != nil {
		slog.Error("Failed to set up metrics", "error", err)
		os.Exit(1)
	}

	gormDB, err := database.ConnectGormDB(database.NewDatabaseConfig(&cfg.DB))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewFSStore(cfg.Storage.RootDir)
	if err != nil {
		slog.Error("Failed to initialize attachment storage", "error", err, "root", cfg.Storage.RootDir)
		os.Exit(1)
	}

	verifier := auth.NewVerifier(auth.VerifierConfig{
		JWKSURL:  cfg.IDP.JwksURL,
		Issuer:   cfg.IDP.Issuer,
		Audience: cfg.IDP.Audience,
	})

	submissionService := services.NewSubmissionService(gormDB, store, services.NewLogNotificationSink())
	appHandler := handlers.NewApplicationHandler(submissionService)
	v1Router := router.NewV1Router(appHandler, verifier, cfg.Service.AllowedOrigins)

	mux := http.NewServeMux()
	v1Router.RegisterRoutes(mux)

	handler := v1Router.ApplyCORS(monitoring.HTTPMetricsMiddleware(mux))

	server := &http.Server{
		Addr:         cfg.Service.Host + ":" + cfg.Service.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Service.Timeout,
		WriteTimeout: cfg.Service.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Grant engine listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down grant engine...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := shutdownMetrics(ctx); err != nil {
		slog.Warn("Metrics shutdown failed", "error", err)
	}

	slog.Info("Grant engine exited")
}

// setupLogger installs the default slog logger per configuration.
func setupLogger(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: true}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
