// Command huddle is the notification service: it reacts to game and chat
// changes, runs the reminder sweep on a ticker and serves the HTTP API.
//
// Usage:
//
//	huddle
//	STORE_BACKEND=postgres DATABASE_URL=postgres://... huddle

// @title Huddle Notification API
// @version 1.0.0
// @description Game reminders, confirmation updates and chat notifications for team sports. Task and event routes are called by the scheduler and the document change feed.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name Huddle
// @license.name MIT
// @securityDefinitions.apikey TaskToken
// @in header
// @name Authorization
// @description Bearer token from TASK_TOKEN
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/huddle/internal/api"
	"github.com/albapepper/huddle/internal/api/handler"
	"github.com/albapepper/huddle/internal/app"
	"github.com/albapepper/huddle/internal/config"
	"github.com/albapepper/huddle/internal/reminder"

	_ "github.com/albapepper/huddle/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Connecting to store...", "backend", cfg.StoreBackend)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Reminder sweep worker
	if cfg.ReminderWorkerEnabled {
		go reminder.StartWorker(ctx, a.Scheduler, logger)
	} else {
		logger.Info("Reminder worker disabled (REMINDER_WORKER_ENABLED=false), expecting POST /tasks/reminders")
	}

	// Change feed
	if err := a.StartTrigger(ctx); err != nil {
		logger.Error("Failed to start change trigger", "source", cfg.TriggerSource, "error", err)
		os.Exit(1)
	}

	// Create router
	h := handler.New(a.Store, a.Scheduler, a.Dispatcher, cfg, logger)
	router := api.NewRouter(h, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.SweepTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Huddle notification service",
			"addr", addr,
			"environment", cfg.Environment,
			"trigger", cfg.TriggerSource)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
