package updateprocessor

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/config"
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/failurepolicy"
	"github.com/nasa/harmony-workflow-core/internal/lifecycle"
	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/planner"
	"github.com/nasa/harmony-workflow-core/internal/queue/memqueue"
	"github.com/nasa/harmony-workflow-core/internal/store"
	"github.com/nasa/harmony-workflow-core/internal/store/storetest"
)

// newTestProcessor wires a Processor whose every repo, and the Processor's
// own db field, resolve against tx rather than the shared pool connection
// storetest.DB hands out. ApplyUpdate's first read (GetByID with a nil tx,
// §4.4: the preprocessing pass runs outside LockJob) would otherwise hit a
// separate connection that can't see this test's uncommitted seed rows.
// WithJobLock then opens tx.Transaction(...), which gorm runs as a SAVEPOINT
// since tx is already inside a transaction, so it still serializes exactly
// like the real LockJob call.
func newTestProcessor(t *testing.T, tx *gorm.DB, cfg config.Config, log *logger.Logger) *Processor {
	t.Helper()
	jobs := store.NewJobRepo(tx, log)
	steps := store.NewWorkflowStepRepo(tx, log)
	items := store.NewWorkItemRepo(tx, log)
	links := store.NewJobLinkRepo(tx, log)
	messages := store.NewJobMessageRepo(tx, log)
	userWork := store.NewUserWorkRepo(tx, log)

	pl := planner.New(steps, items, userWork, memqueue.NewWakeupQueue(), nil, nil, cfg, log)
	policy := failurepolicy.New(messages, cfg)
	lc := lifecycle.New(jobs, steps, links, messages, userWork)

	return New(tx, jobs, steps, items, links, userWork, pl, policy, lc, nil, nil, cfg, log)
}

func TestApplyUpdateSuccessAdvancesStepAndProgress(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	log := storetest.Logger(t)

	job := storetest.SeedJob(t, ctx, tx, "update-user")
	if err := tx.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", job.ID).
		Update("status", domain.JobRunning).Error; err != nil {
		t.Fatalf("seed status: %v", err)
	}
	current := storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	if err := tx.WithContext(ctx).Model(current).Update("work_item_count", 1).Error; err != nil {
		t.Fatalf("seed work_item_count: %v", err)
	}
	item := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)

	p := newTestProcessor(t, tx, config.Config{WorkItemRetryLimit: 2}, log)

	u := Update{
		WorkItemID: item.ID,
		Status:     domain.ItemSuccessful,
		Results:    []string{"s3://out/a.tif"},
	}
	if err := p.ApplyUpdate(ctx, u); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	items := store.NewWorkItemRepo(tx, log)
	updated, err := items.GetByID(ctx, tx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != domain.ItemSuccessful {
		t.Fatalf("expected item status successful, got %s", updated.Status)
	}

	steps := store.NewWorkflowStepRepo(tx, log)
	refreshed, err := steps.Get(ctx, tx, job.ID, 0)
	if err != nil {
		t.Fatalf("Get step: %v", err)
	}
	if !refreshed.IsComplete {
		t.Fatalf("expected step marked complete")
	}

	jobs := store.NewJobRepo(tx, log)
	refreshedJob, err := jobs.GetByID(ctx, tx, job.ID)
	if err != nil {
		t.Fatalf("GetByID job: %v", err)
	}
	if refreshedJob.Progress != 100 {
		t.Fatalf("expected progress 100 for the only step, got %d", refreshedJob.Progress)
	}
	if refreshedJob.Status != domain.JobSuccessful {
		t.Fatalf("expected job successful once its only step completes with output, got %s", refreshedJob.Status)
	}
}

func TestApplyUpdateFailedRetriesBeforeLimit(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	log := storetest.Logger(t)

	job := storetest.SeedJob(t, ctx, tx, "update-user")
	current := storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	if err := tx.WithContext(ctx).Model(current).Update("work_item_count", 1).Error; err != nil {
		t.Fatalf("seed work_item_count: %v", err)
	}
	item := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)

	p := newTestProcessor(t, tx, config.Config{WorkItemRetryLimit: 2}, log)

	u := Update{
		WorkItemID:      item.ID,
		Status:          domain.ItemFailed,
		Message:         "boom",
		MessageCategory: "harmony.ServiceRuntimeError",
	}
	if err := p.ApplyUpdate(ctx, u); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	items := store.NewWorkItemRepo(tx, log)
	updated, err := items.GetByID(ctx, tx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != domain.ItemReady {
		t.Fatalf("expected item requeued to ready under the retry limit, got %s", updated.Status)
	}
	if updated.RetryCount != 1 {
		t.Fatalf("expected retryCount bumped to 1 by the requeue, got %d", updated.RetryCount)
	}

	steps := store.NewWorkflowStepRepo(tx, log)
	refreshed, err := steps.Get(ctx, tx, job.ID, 0)
	if err != nil {
		t.Fatalf("Get step: %v", err)
	}
	if refreshed.IsComplete {
		t.Fatalf("a requeued-for-retry item must not advance the step")
	}
}

func TestApplyUpdateQueryCmrFailureFailsJob(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	log := storetest.Logger(t)

	job := storetest.SeedJob(t, ctx, tx, "update-user")
	current := storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, domain.QueryCmrServiceIDPattern)
	if err := tx.WithContext(ctx).Model(current).Update("work_item_count", 1).Error; err != nil {
		t.Fatalf("seed work_item_count: %v", err)
	}
	item := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, domain.QueryCmrServiceIDPattern, domain.ItemRunning)
	if err := tx.WithContext(ctx).Model(item).Update("retry_count", 99).Error; err != nil {
		t.Fatalf("seed retry_count: %v", err)
	}

	p := newTestProcessor(t, tx, config.Config{WorkItemRetryLimit: 2, MaxErrorsForJob: 10}, log)

	u := Update{
		WorkItemID:      item.ID,
		Status:          domain.ItemFailed,
		Message:         "cmr unreachable",
		MessageCategory: "harmony.ServiceRuntimeError",
	}
	if err := p.ApplyUpdate(ctx, u); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	jobs := store.NewJobRepo(tx, log)
	refreshedJob, err := jobs.GetByID(ctx, tx, job.ID)
	if err != nil {
		t.Fatalf("GetByID job: %v", err)
	}
	if refreshedJob.Status != domain.JobFailed {
		t.Fatalf("a failed query-cmr item must fail the whole job, got %s", refreshedJob.Status)
	}
}

func TestApplyUpdateIgnoresTerminalWorkItem(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	log := storetest.Logger(t)

	job := storetest.SeedJob(t, ctx, tx, "update-user")
	current := storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	if err := tx.WithContext(ctx).Model(current).Update("work_item_count", 1).Error; err != nil {
		t.Fatalf("seed work_item_count: %v", err)
	}
	item := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemCanceled)

	p := newTestProcessor(t, tx, config.Config{WorkItemRetryLimit: 2}, log)

	// §9 Open Question, resolved as rejection: a late SUCCESSFUL callback
	// racing an already-canceled work item must not resurrect it.
	u := Update{
		WorkItemID: item.ID,
		Status:     domain.ItemSuccessful,
		Results:    []string{"s3://out/a.tif"},
	}
	if err := p.ApplyUpdate(ctx, u); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	items := store.NewWorkItemRepo(tx, log)
	updated, err := items.GetByID(ctx, tx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != domain.ItemCanceled {
		t.Fatalf("a late update to a terminal item must be ignored, got %s", updated.Status)
	}

	steps := store.NewWorkflowStepRepo(tx, log)
	refreshed, err := steps.Get(ctx, tx, job.ID, 0)
	if err != nil {
		t.Fatalf("Get step: %v", err)
	}
	if refreshed.IsComplete {
		t.Fatalf("an ignored update must not advance the step")
	}
}

func TestApplyUpdateSuccessfulWithNoResultsIsTreatedAsFailure(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	log := storetest.Logger(t)

	job := storetest.SeedJob(t, ctx, tx, "update-user")
	current := storetest.SeedWorkflowStep(t, ctx, tx, job.ID, 0, "svc-a")
	if err := tx.WithContext(ctx).Model(current).Update("work_item_count", 1).Error; err != nil {
		t.Fatalf("seed work_item_count: %v", err)
	}
	item := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)

	p := newTestProcessor(t, tx, config.Config{WorkItemRetryLimit: 0}, log)

	u := Update{
		WorkItemID: item.ID,
		Status:     domain.ItemSuccessful,
	}
	if err := p.ApplyUpdate(ctx, u); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	items := store.NewWorkItemRepo(tx, log)
	updated, err := items.GetByID(ctx, tx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != domain.ItemFailed {
		t.Fatalf("a successful status with zero results must be rewritten to failed, got %s", updated.Status)
	}
}
