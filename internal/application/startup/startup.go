// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DropForge/dropforge-go/internal/application/container"
	"github.com/DropForge/dropforge-go/internal/infrastructure/email"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
	"github.com/DropForge/dropforge-go/internal/infrastructure/persistence/database"
	"github.com/DropForge/dropforge-go/internal/presentation/http/server"
	"github.com/DropForge/dropforge-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// Initialize performs the complete startup sequence
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	log.Println("\033[32m" + `

  ▄▄▄▄  ▄▄▄▄   ▄▄▄  ▄▄▄▄   ▄▄▄▄▄ ▄▄▄▄  ▄▄▄▄   ▄▄▄▄  ▄▄▄▄▄
  ██  █ ██ ██ ██ ██ ██ ██  ██    ██ ██ ██ ██ ██     ██
  ██  █ ████  ██ ██ ████   ████  ██ ██ ████  ██ ▄▄▄ ████
  ██▄▄█ ██ ██ ▀███▀ ██     ██    ▀███▀ ██ ██ ▀██▄██ ██▄▄▄
` + "\033[97m" + `
  device-fingerprint risk engine
` + "\033[0m")

	// Step 1: Initialize channeled logging
	log.Println("Initializing logging...")
	logger, err := logging.NewChanneledLogger(logging.DefaultLoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.Startup().Info("Channeled logging initialized")

	// Step 2: Open database and create schema
	logger.Startup().Info("Connecting to database", "driver", config.DBDriver, "path", config.DBPath)
	db, err := database.NewConnectionWithLogger(config.DBDriver, config.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	tableCreator := database.NewTableCreator()
	if err := tableCreator.CreateSchema(db.DB); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	logger.Startup().Info("Database schema verified")

	// Step 3: Performance tracking
	perfTracker := performance.NewTracker(performance.DefaultTrackerConfig())

	// Step 4: Optional alert mailer
	var mailer email.Service
	if config.ResendAPIKey != "" {
		mailer, err = email.NewService()
		if err != nil {
			logger.Startup().Warn("Alert mailer disabled", "error", err.Error())
			mailer = nil
		} else {
			logger.Startup().Info("Alert mailer initialized")
		}
	}

	// Step 5: Dependency injection container
	logger.Startup().Info("Initializing dependency injection container...")
	appContainer := container.NewContainer(db, logger, perfTracker, mailer)
	logger.Startup().Info("Container initialization complete")

	// Step 6: Background session cleanup
	appContainer.CleanupService.Start(ctx)

	// Step 7: Start HTTP server
	logger.Startup().Info("Starting HTTP server...")
	httpServer := server.New(config.Port, appContainer)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+config.Port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", config.Port)

	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")

	shutdownStart := time.Now()
	cancelBackgroundTasks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Closing database...")
	if err := db.Close(); err != nil {
		logger.Shutdown().Error("Error closing database", "error", err.Error())
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	if err := logger.Close(); err != nil {
		log.Printf("Error closing loggers: %v", err)
	}

	return nil
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
