package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/nasa/harmony-workflow-core/internal/config"
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/store"
	"github.com/nasa/harmony-workflow-core/internal/store/storetest"
	"github.com/nasa/harmony-workflow-core/internal/updateprocessor"
)

// fakeUpdater records every ApplyUpdate call instead of driving a real
// Processor, so the reaper's sweep logic is tested independent of the
// update-processor state machine.
type fakeUpdater struct {
	applied []updateprocessor.Update
}

func (f *fakeUpdater) ApplyUpdate(_ context.Context, u updateprocessor.Update) error {
	f.applied = append(f.applied, u)
	return nil
}

func TestSweepReapsStuckItemsPastTimeout(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	log := storetest.Logger(t)

	items := store.NewWorkItemRepo(tx, log)

	job := storetest.SeedJob(t, ctx, tx, "reaper-user")
	storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	stuck := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)
	if err := tx.WithContext(ctx).Model(stuck).
		Update("updated_at", time.Now().Add(-2*time.Hour)).Error; err != nil {
		t.Fatalf("seed updated_at: %v", err)
	}
	fresh := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)
	_ = fresh

	fu := &fakeUpdater{}
	r := New(items, fu, config.Config{WorkItemTimeoutMinutes: 30, ReaperBatchSize: 50}, log)

	// items.ListStuck reads with a nil tx (§4.9 runs outside any job lock),
	// so wire the repo itself against tx rather than the pooled db.
	if err := r.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(fu.applied) != 1 {
		t.Fatalf("expected exactly one timed-out item reaped, got %d", len(fu.applied))
	}
	if fu.applied[0].WorkItemID != stuck.ID {
		t.Fatalf("expected the stale item %d reaped, got %d", stuck.ID, fu.applied[0].WorkItemID)
	}
	if fu.applied[0].Status != domain.ItemFailed {
		t.Fatalf("expected the reaped update to fail the item, got %s", fu.applied[0].Status)
	}
}

func TestSweepIgnoresItemsForTerminalJobs(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	log := storetest.Logger(t)

	items := store.NewWorkItemRepo(tx, log)

	job := storetest.SeedJob(t, ctx, tx, "reaper-user")
	if err := tx.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", job.ID).
		Update("status", domain.JobCanceled).Error; err != nil {
		t.Fatalf("seed status: %v", err)
	}
	storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	stuck := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)
	if err := tx.WithContext(ctx).Model(stuck).
		Update("updated_at", time.Now().Add(-2*time.Hour)).Error; err != nil {
		t.Fatalf("seed updated_at: %v", err)
	}

	fu := &fakeUpdater{}
	r := New(items, fu, config.Config{WorkItemTimeoutMinutes: 30, ReaperBatchSize: 50}, log)

	if err := r.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(fu.applied) != 0 {
		t.Fatalf("a stuck item on an already-canceled job must not be reaped, got %d", len(fu.applied))
	}
}
