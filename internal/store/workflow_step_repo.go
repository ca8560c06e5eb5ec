package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/logger"
)

type WorkflowStepRepo interface {
	Create(ctx context.Context, tx *gorm.DB, steps []*domain.WorkflowStep) error
	Get(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int) (*domain.WorkflowStep, error)
	ListForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*domain.WorkflowStep, error)
	IncrementWorkItemCount(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int, n int) error
	SetWorkItemCount(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int, count int) error
	IncrementCompletedCount(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int, n int) (*domain.WorkflowStep, error)
	MarkComplete(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int) error
}

type workflowStepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkflowStepRepo(db *gorm.DB, baseLog *logger.Logger) WorkflowStepRepo {
	return &workflowStepRepo{db: db, log: baseLog.With("repo", "WorkflowStepRepo")}
}

func (r *workflowStepRepo) resolve(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *workflowStepRepo) Create(ctx context.Context, tx *gorm.DB, steps []*domain.WorkflowStep) error {
	if len(steps) == 0 {
		return nil
	}
	return r.resolve(tx).WithContext(ctx).Create(&steps).Error
}

func (r *workflowStepRepo) Get(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int) (*domain.WorkflowStep, error) {
	var step domain.WorkflowStep
	err := r.resolve(tx).WithContext(ctx).
		Where("job_id = ? AND step_index = ?", jobID, stepIndex).
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (r *workflowStepRepo) ListForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*domain.WorkflowStep, error) {
	var steps []*domain.WorkflowStep
	err := r.resolve(tx).WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("step_index ASC").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// SetWorkItemCount overwrites the expected count outright, used when
// shrinking numInputGranules recomputes the query-cmr step's expected
// page count (§4.4: "recompute the expected count of the first
// (query-cmr) step as ceil(numInputGranules / cmrMaxPageSize)").
func (r *workflowStepRepo) SetWorkItemCount(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int, count int) error {
	return r.resolve(tx).WithContext(ctx).
		Model(&domain.WorkflowStep{}).
		Where("job_id = ? AND step_index = ?", jobID, stepIndex).
		Update("work_item_count", count).Error
}

// IncrementWorkItemCount bumps workflow_steps.work_item_count by n, used by
// the planner after inserting new-step work items (§4.5).
func (r *workflowStepRepo) IncrementWorkItemCount(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int, n int) error {
	if n == 0 {
		return nil
	}
	return r.resolve(tx).WithContext(ctx).
		Model(&domain.WorkflowStep{}).
		Where("job_id = ? AND step_index = ?", jobID, stepIndex).
		Update("work_item_count", gorm.Expr("work_item_count + ?", n)).Error
}

// IncrementCompletedCount bumps completed_work_item_count and returns the
// refreshed row. The increment is not bounded by work_item_count: a
// completed count above the expected count is stored as is.
func (r *workflowStepRepo) IncrementCompletedCount(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int, n int) (*domain.WorkflowStep, error) {
	db := r.resolve(tx).WithContext(ctx)
	if n != 0 {
		if err := db.Model(&domain.WorkflowStep{}).
			Where("job_id = ? AND step_index = ?", jobID, stepIndex).
			Update("completed_work_item_count", gorm.Expr("completed_work_item_count + ?", n)).Error; err != nil {
			return nil, err
		}
	}
	return r.Get(ctx, tx, jobID, stepIndex)
}

// MarkComplete flips is_complete to true. This flag never reverts once set
// (§3 Workflow step invariant); callers never clear it.
func (r *workflowStepRepo) MarkComplete(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int) error {
	return r.resolve(tx).WithContext(ctx).
		Model(&domain.WorkflowStep{}).
		Where("job_id = ? AND step_index = ?", jobID, stepIndex).
		Update("is_complete", true).Error
}
