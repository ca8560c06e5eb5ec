package failurepolicy

import (
	"context"
	"testing"

	"github.com/nasa/harmony-workflow-core/internal/config"
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/store"
	"github.com/nasa/harmony-workflow-core/internal/store/storetest"
)

func TestApplyWarningAlwaysContinues(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	messages := store.NewJobMessageRepo(db, storetest.Logger(t))

	p := New(messages, config.Config{MaxErrorsForJob: 100, MaxPercentErrorsForJob: 30})
	job := storetest.SeedJob(t, ctx, tx, "policy-user")
	item := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemWarning)

	outcome, err := p.Apply(ctx, tx, job, item, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !outcome.Continue {
		t.Fatalf("expected warning to continue")
	}
}

func TestApplyQueryCmrFailureFailsJob(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	messages := store.NewJobMessageRepo(db, storetest.Logger(t))

	p := New(messages, config.Config{MaxErrorsForJob: 100, MaxPercentErrorsForJob: 30})
	job := storetest.SeedJob(t, ctx, tx, "policy-user-2")
	item := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "query-cmr", domain.ItemFailed)
	item.Message = "no granules found"

	outcome, err := p.Apply(ctx, tx, job, item, true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome.Continue {
		t.Fatalf("expected query-cmr failure to stop the job")
	}
	if outcome.JobStatus != domain.JobFailed {
		t.Fatalf("expected JobFailed, got %s", outcome.JobStatus)
	}
}

func TestApplyExceedsMaxErrorsForJob(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()
	messages := store.NewJobMessageRepo(db, storetest.Logger(t))

	p := New(messages, config.Config{MaxErrorsForJob: 1, MaxPercentErrorsForJob: 100})
	job := storetest.SeedJob(t, ctx, tx, "policy-user-3")
	job.NumInputGranules = 1000
	job.Status = domain.JobRunning

	item1 := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemFailed)
	item1.Message = "first failure"
	outcome, err := p.Apply(ctx, tx, job, item1, false)
	if err != nil {
		t.Fatalf("Apply #1: %v", err)
	}
	if !outcome.Continue {
		t.Fatalf("expected first failure to continue")
	}
	if outcome.JobStatus != domain.JobRunningWithErrors {
		t.Fatalf("expected RUNNING_WITH_ERRORS, got %s", outcome.JobStatus)
	}

	item2 := storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemFailed)
	item2.Message = "second failure"
	outcome, err = p.Apply(ctx, tx, job, item2, false)
	if err != nil {
		t.Fatalf("Apply #2: %v", err)
	}
	if outcome.Continue {
		t.Fatalf("expected second failure to exceed maxErrorsForJob and stop the job")
	}
	if outcome.JobStatus != domain.JobFailed {
		t.Fatalf("expected JobFailed, got %s", outcome.JobStatus)
	}
}
