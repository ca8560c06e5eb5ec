// Package reaper implements §4.9: periodically scan for work items stuck
// RUNNING past their execution timeout and fail them, feeding the failure
// back into the same update pipeline a worker's own report would use.
package reaper

import (
	"context"
	"time"

	"github.com/nasa/harmony-workflow-core/internal/config"
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/store"
	"github.com/nasa/harmony-workflow-core/internal/updateprocessor"
)

// updater is the subset of updateprocessor.Processor the reaper depends on,
// narrowed so tests can fake it without a database.
type updater interface {
	ApplyUpdate(ctx context.Context, u updateprocessor.Update) error
}

type Reaper struct {
	items store.WorkItemRepo
	proc  updater
	cfg   config.Config
	log   *logger.Logger
}

func New(items store.WorkItemRepo, proc updater, cfg config.Config, baseLog *logger.Logger) *Reaper {
	return &Reaper{items: items, proc: proc, cfg: cfg, log: baseLog.With("component", "Reaper")}
}

// Run sweeps on a ticker until ctx is canceled. It never returns an error;
// sweep failures are logged and retried on the next tick.
func (r *Reaper) Run(ctx context.Context) {
	interval := time.Duration(r.cfg.ReaperScanIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.log.Warn("reaper sweep failed", "error", err)
			}
		}
	}
}

// Sweep reaps up to ReaperBatchSize timed-out items in one pass.
func (r *Reaper) Sweep(ctx context.Context) error {
	timeout := time.Duration(r.cfg.WorkItemTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = time.Hour
	}
	cutoff := time.Now().Add(-timeout)

	stuck, err := r.items.ListStuck(ctx, nil, cutoff, r.cfg.ReaperBatchSize)
	if err != nil {
		return err
	}
	for _, item := range stuck {
		r.log.Info("reaping stuck work item", "workItemID", item.ID, "jobID", item.JobID, "serviceID", item.ServiceID)
		u := updateprocessor.Update{
			WorkItemID:        item.ID,
			Status:            domain.ItemFailed,
			Message:           "Work item execution timed out.",
			MessageCategory:   "harmony.ServiceTimeoutError",
			WorkflowStepIndex: item.WorkflowStepIndex,
		}
		if err := r.proc.ApplyUpdate(ctx, u); err != nil {
			r.log.Warn("reaper failed to apply timeout update", "workItemID", item.ID, "error", err)
		}
	}
	return nil
}
