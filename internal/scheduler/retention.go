// Package scheduler prunes old runs on a cron schedule so the run
// history does not grow without bound.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stepforge/agentd/internal/store"
)

// Retention deletes terminal runs older than MaxAge on Schedule.
type Retention struct {
	store    *store.Store
	schedule string
	maxAge   time.Duration
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewRetention creates the retention job. schedule is a standard
// 5-field cron expression; maxAgeDays bounds how long terminal runs
// are kept.
func NewRetention(st *store.Store, schedule string, maxAgeDays int, logger *slog.Logger) (*Retention, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAgeDays <= 0 {
		return nil, fmt.Errorf("maxAgeDays must be positive")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}

	return &Retention{
		store:    st,
		schedule: schedule,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		logger:   logger.With("component", "retention"),
	}, nil
}

// Start schedules the prune job until ctx is cancelled.
func (r *Retention) Start(ctx context.Context) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.Prune(ctx); err != nil {
			r.logger.Error("prune failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule prune job: %w", err)
	}

	r.cron.Start()
	r.logger.Info("retention scheduler started", "schedule", r.schedule, "max_age", r.maxAge)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the schedule; a prune already in flight finishes.
func (r *Retention) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Prune deletes terminal runs older than the retention window.
func (r *Retention) Prune(ctx context.Context) error {
	cutoff := time.Now().Add(-r.maxAge)
	n, err := r.store.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("pruned old runs", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
