package refresh

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler checks on a fixed interval whether a refresh is due and then
// applies retention. It never forces a run.
type Scheduler struct {
	rec      *Reconciler
	interval time.Duration
}

func NewScheduler(rec *Reconciler, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{rec: rec, interval: interval}
}

// Start ticks immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("refresh scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one due-check and cleanup pass.
func (s *Scheduler) Tick(ctx context.Context) {
	res, err := s.rec.Run(ctx, RunOptions{})
	switch {
	case errors.Is(err, ErrRefreshInProgress):
		slog.Debug("scheduled refresh skipped, run in progress")
	case err != nil:
		slog.Error("scheduled refresh failed", "error", err)
	case res.Outcome != OutcomeSkipped:
		slog.Info("scheduled refresh", "outcome", res.Outcome, "records", res.Records)
	}

	if _, err := s.rec.Cleanup(ctx); err != nil {
		slog.Error("scheduled cleanup failed", "error", err)
	}
}
