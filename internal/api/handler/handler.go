// Package handler provides HTTP handlers for all API endpoints.
// Handlers talk to the document store, the reminder scheduler and the
// trigger dispatcher through small interfaces; there is no service layer.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/albapepper/huddle/internal/api/respond"
	"github.com/albapepper/huddle/internal/config"
	"github.com/albapepper/huddle/internal/reminder"
	"github.com/albapepper/huddle/internal/store"
	"github.com/albapepper/huddle/internal/trigger"
)

// Store is the document store surface the handlers read.
type Store interface {
	GetGame(ctx context.Context, id string) (*store.Game, error)
	Ping(ctx context.Context) error
}

// Sweeper runs reminder sweeps. Satisfied by *reminder.Scheduler.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) reminder.SweepResult
	Interval() time.Duration
}

// EventHandler consumes decoded document events. Satisfied by
// *trigger.Dispatcher.
type EventHandler interface {
	Handle(ctx context.Context, ev trigger.Event) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	store   Store
	sweeper Sweeper
	events  EventHandler
	cfg     *config.Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Handler with shared dependencies.
func New(s Store, sw Sweeper, events EventHandler, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		store:   s,
		sweeper: sw,
		events:  events,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"name":              "Huddle Notification Service",
		"version":           "1.0.0",
		"status":            "running",
		"store_backend":     h.cfg.StoreBackend,
		"trigger_source":    h.cfg.TriggerSource,
		"reminder_interval": h.sweeper.Interval().String(),
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckStore verifies document store connectivity.
// @Summary Store health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/store [get]
func (h *Handler) HealthCheckStore(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("Store health check failed", "backend", h.cfg.StoreBackend, "error", err)
		respond.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"store":     h.cfg.StoreBackend,
			"error":     "Store connectivity check failed",
			"timestamp": h.now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"store":     h.cfg.StoreBackend,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
