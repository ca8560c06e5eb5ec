package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/domain"
)

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, username string) *domain.Job {
	tb.Helper()
	j := &domain.Job{
		ID:               uuid.New(),
		Username:         username,
		Request:          "https://harmony.example/service?subset=lat(0:10)",
		Status:           domain.JobAccepted,
		NumInputGranules: 1,
		IsAsync:          true,
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

func SeedWorkflowStep(tb testing.TB, ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int, serviceID string) *domain.WorkflowStep {
	tb.Helper()
	s := &domain.WorkflowStep{
		JobID:     jobID,
		StepIndex: stepIndex,
		ServiceID: serviceID,
		Operation: "{}",
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed workflow step: %v", err)
	}
	return s
}

func SeedWorkItem(tb testing.TB, ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int, serviceID string, status domain.WorkItemStatus) *domain.WorkItem {
	tb.Helper()
	w := &domain.WorkItem{
		JobID:             jobID,
		ServiceID:         serviceID,
		WorkflowStepIndex: stepIndex,
		Status:            status,
		SortIndex:         0,
	}
	if err := tx.WithContext(ctx).Create(w).Error; err != nil {
		tb.Fatalf("seed work item: %v", err)
	}
	return w
}

func PtrTime(v time.Time) *time.Time { return &v }
