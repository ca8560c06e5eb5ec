package callback

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/apierr"
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/queue"
	"github.com/nasa/harmony-workflow-core/internal/queue/memqueue"
	"github.com/nasa/harmony-workflow-core/internal/store"
	"github.com/nasa/harmony-workflow-core/internal/store/storetest"
	"github.com/nasa/harmony-workflow-core/internal/updateprocessor"
)

// newTestIngress wires the job/work-item repos against tx so Handle's
// nil-tx reads (§4.8 runs outside any LockJob) see this test's
// uncommitted seed rows instead of a separate pooled connection.
func newTestIngress(t *testing.T, tx *gorm.DB, updates *memqueue.UpdateQueue) *Ingress {
	t.Helper()
	log := storetest.Logger(t)
	jobs := store.NewJobRepo(tx, log)
	items := store.NewWorkItemRepo(tx, log)
	return New(jobs, items, updates, nil, log)
}

func TestHandleErrorFailsWorkItem(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	job := storetest.SeedJob(t, ctx, tx, "callback-user")
	storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	item := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)

	updates := memqueue.NewUpdateQueue()
	ing := newTestIngress(t, tx, updates)

	if err := ing.Handle(ctx, job.ID, nil, Payload{Error: "service exploded"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	msgs, err := updates.Dequeue(ctx, queue.Small, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one enqueued update, got %d", len(msgs))
	}
	var u updateprocessor.Update
	if err := json.Unmarshal(msgs[0].Payload, &u); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if u.WorkItemID != item.ID {
		t.Fatalf("expected update for item %d, got %d", item.ID, u.WorkItemID)
	}
	if u.Status != domain.ItemFailed {
		t.Fatalf("expected failed status, got %s", u.Status)
	}
}

func TestHandleRedirectEnqueuesAsLargeSeverity(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	job := storetest.SeedJob(t, ctx, tx, "callback-user")
	storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)

	updates := memqueue.NewUpdateQueue()
	ing := newTestIngress(t, tx, updates)

	if err := ing.Handle(ctx, job.ID, nil, Payload{Redirect: "https://example.org/out.tif"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if msgs, _ := updates.Dequeue(ctx, queue.Small, 10); len(msgs) != 0 {
		t.Fatalf("a redirect result must not land in the small queue, got %d", len(msgs))
	}
	msgs, err := updates.Dequeue(ctx, queue.Large, 1)
	if err != nil {
		t.Fatalf("Dequeue large: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one large-severity update, got %d", len(msgs))
	}
}

func TestHandleRejectsMultipleFields(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	job := storetest.SeedJob(t, ctx, tx, "callback-user")
	storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)

	ing := newTestIngress(t, tx, memqueue.NewUpdateQueue())

	err := ing.Handle(ctx, job.ID, nil, Payload{Error: "boom", Redirect: "https://example.org/out.tif"})
	if err == nil {
		t.Fatalf("expected a validation error for two result fields set at once")
	}
	if !apierr.IsValidation(err) {
		t.Fatalf("expected a validation-classified error, got %v", err)
	}
}

func TestHandleRejectsCallbackOnTerminalJob(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	job := storetest.SeedJob(t, ctx, tx, "callback-user")
	if err := tx.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", job.ID).
		Update("status", domain.JobSuccessful).Error; err != nil {
		t.Fatalf("seed status: %v", err)
	}
	storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemSuccessful)

	ing := newTestIngress(t, tx, memqueue.NewUpdateQueue())

	err := ing.Handle(ctx, job.ID, nil, Payload{Redirect: "https://example.org/out.tif"})
	if err == nil {
		t.Fatalf("expected a conflict error for a callback on an already-terminal job")
	}
	if !apierr.IsConflict(err) {
		t.Fatalf("expected a conflict-classified error, got %v", err)
	}
}

func TestHandleTemporalMustBeRFC3339(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	job := storetest.SeedJob(t, ctx, tx, "callback-user")
	storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)

	ing := newTestIngress(t, tx, memqueue.NewUpdateQueue())

	err := ing.Handle(ctx, job.ID, nil, Payload{
		Redirect: "https://example.org/out.tif",
		Temporal: []string{"not-a-date", "2024-01-01T00:00:00Z"},
	})
	if err == nil || !strings.Contains(err.Error(), "RFC3339") {
		t.Fatalf("expected an RFC3339 validation error, got %v", err)
	}
}
