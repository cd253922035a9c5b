package reminder

import (
	"context"
	"log/slog"
	"time"
)

// StartWorker runs a sweep every polling interval. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func StartWorker(ctx context.Context, s *Scheduler, logger *slog.Logger) {
	logger.Info("Reminder worker started",
		"interval", s.opts.Interval,
		"max_catchup", s.opts.MaxCatchUp,
		"workers", s.opts.Workers)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case t := <-ticker.C:
			s.Sweep(ctx, t)
		case <-ctx.Done():
			logger.Info("Reminder worker stopped")
			return
		}
	}
}
