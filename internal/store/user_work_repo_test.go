package store

import (
	"context"
	"testing"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/store/storetest"
)

func TestUserWorkRepoCounters(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	repo := NewUserWorkRepo(db, storetest.Logger(t))
	job := storetest.SeedJob(t, ctx, tx, "counter-user")

	if err := repo.IncrementReady(ctx, tx, job.ID, "svc-a", 3); err != nil {
		t.Fatalf("IncrementReady: %v", err)
	}
	row, err := repo.Get(ctx, tx, job.ID, "svc-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.ReadyCount != 3 {
		t.Fatalf("expected readyCount 3, got %d", row.ReadyCount)
	}

	if err := repo.DecrementReady(ctx, tx, job.ID, "svc-a", 1); err != nil {
		t.Fatalf("DecrementReady: %v", err)
	}
	if err := repo.IncrementRunning(ctx, tx, job.ID, "svc-a", 1); err != nil {
		t.Fatalf("IncrementRunning: %v", err)
	}
	row, err = repo.Get(ctx, tx, job.ID, "svc-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.ReadyCount != 2 || row.RunningCount != 1 {
		t.Fatalf("expected ready=2 running=1, got ready=%d running=%d", row.ReadyCount, row.RunningCount)
	}

	// Decrementing past zero clamps at zero and reports underflow.
	if err := repo.DecrementRunning(ctx, tx, job.ID, "svc-a", 5); err != ErrCounterUnderflow {
		t.Fatalf("expected ErrCounterUnderflow, got %v", err)
	}
	row, err = repo.Get(ctx, tx, job.ID, "svc-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.RunningCount != 0 {
		t.Fatalf("expected runningCount clamped to 0, got %d", row.RunningCount)
	}
}

func TestUserWorkRepoRecompute(t *testing.T) {
	db := storetest.DB(t)
	tx := storetest.Tx(t, db)
	ctx := context.Background()

	userWorkRepo := NewUserWorkRepo(db, storetest.Logger(t))
	job := storetest.SeedJob(t, ctx, tx, "recompute-user")
	storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemReady)
	storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemReady)
	storetest.SeedWorkItem(t, ctx, tx, job.ID, 0, "svc-a", domain.ItemRunning)

	// Drift: counters say zero even though two are actually ready.
	if err := userWorkRepo.RecomputeReadyCount(ctx, tx, job.ID, "svc-a"); err != nil {
		t.Fatalf("RecomputeReadyCount: %v", err)
	}
	row, err := userWorkRepo.Get(ctx, tx, job.ID, "svc-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.ReadyCount != 2 {
		t.Fatalf("expected recomputed readyCount 2, got %d", row.ReadyCount)
	}
	if row.RunningCount != 1 {
		t.Fatalf("expected recomputed runningCount 1, got %d", row.RunningCount)
	}
}
