package store

import (
	"context"
	"testing"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/store/storetest"
)

func TestWorkItemRepoClaimReady(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	itemRepo := NewWorkItemRepo(db, storetest.Logger(t))

	job := storetest.SeedJob(t, ctx, tx, "claimer")
	storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")

	items := make([]*domain.WorkItem, 0, 5)
	for i := 0; i < 5; i++ {
		items = append(items, &domain.WorkItem{
			JobID: job.ID, ServiceID: "svc-a", WorkflowStepIndex: 0,
			Status: domain.ItemReady, SortIndex: int64(i),
		})
	}
	if err := itemRepo.InsertWorkItems(ctx, tx, items); err != nil {
		t.Fatalf("InsertWorkItems: %v", err)
	}

	claimed, err := itemRepo.ClaimReady(ctx, tx, job.ID, "svc-a", 3, domain.ItemRunning)
	if err != nil {
		t.Fatalf("ClaimReady: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("ClaimReady: expected 3, got %d", len(claimed))
	}
	for _, it := range claimed {
		if it.Status != domain.ItemRunning {
			t.Fatalf("ClaimReady: expected running, got %s", it.Status)
		}
	}

	remaining, err := itemRepo.CountReady(ctx, tx, job.ID, "svc-a")
	if err != nil {
		t.Fatalf("CountReady: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("CountReady: expected 2 remaining, got %d", remaining)
	}

	second, err := itemRepo.ClaimReady(ctx, tx, job.ID, "svc-a", 10, domain.ItemRunning)
	if err != nil {
		t.Fatalf("ClaimReady #2: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("ClaimReady #2: expected remaining 2, got %d", len(second))
	}
}

func TestWorkItemRepoUpdateStatusTransitions(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	itemRepo := NewWorkItemRepo(db, storetest.Logger(t))
	job := storetest.SeedJob(t, ctx, tx, "transitioner")
	item := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)

	updated, err := itemRepo.UpdateWorkItemStatus(ctx, tx, item.ID, domain.ItemSuccessful, WorkItemUpdate{Message: "done"})
	if err != nil {
		t.Fatalf("UpdateWorkItemStatus: %v", err)
	}
	if updated.Status != domain.ItemSuccessful {
		t.Fatalf("expected successful, got %s", updated.Status)
	}

	// Terminal items reject any further transition.
	if _, err := itemRepo.UpdateWorkItemStatus(ctx, tx, item.ID, domain.ItemRunning, WorkItemUpdate{}); err != ErrStaleUpdate {
		t.Fatalf("expected ErrStaleUpdate on terminal re-transition, got %v", err)
	}
}

func TestWorkItemRepoRetryIncrementsCount(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	itemRepo := NewWorkItemRepo(db, storetest.Logger(t))
	job := storetest.SeedJob(t, ctx, tx, "retrier")
	item := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)

	updated, err := itemRepo.UpdateWorkItemStatus(ctx, tx, item.ID, domain.ItemReady, WorkItemUpdate{Message: "retrying"})
	if err != nil {
		t.Fatalf("UpdateWorkItemStatus: %v", err)
	}
	if updated.RetryCount != 1 {
		t.Fatalf("expected retryCount 1, got %d", updated.RetryCount)
	}
	if updated.StartedAt != nil {
		t.Fatalf("expected startedAt cleared on retry")
	}
}

func TestWorkItemRepoCountTerminalForStepIsScopedToOneStep(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	itemRepo := NewWorkItemRepo(db, storetest.Logger(t))
	job := storetest.SeedJob(t, ctx, tx, "step-scoped-counter")
	storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "query-cmr")
	storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 1, "svc-a")

	step0a := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "query-cmr", domain.ItemRunning)
	storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "query-cmr", domain.ItemRunning)
	step1a := storetest.SeedWorkItem(t, ctx, tx, job.ID, 1, "svc-a", domain.ItemRunning)

	for _, item := range []*domain.WorkItem{step0a, step1a} {
		if _, err := itemRepo.UpdateWorkItemStatus(ctx, tx, item.ID, domain.ItemSuccessful, WorkItemUpdate{}); err != nil {
			t.Fatalf("UpdateWorkItemStatus: %v", err)
		}
	}

	count, err := itemRepo.CountTerminalForStep(ctx, tx, job.ID, 0, domain.ItemSuccessful)
	if err != nil {
		t.Fatalf("CountTerminalForStep: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count scoped to step 0 to be 1, got %d (step 1's successful item must not be counted)", count)
	}
}
