package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/logger"
)

// WorkItemUpdate carries the fields a status transition may set, mirroring
// the update message schema in §6. Zero-value fields are left untouched
// except where noted.
type WorkItemUpdate struct {
	Message         string
	MessageCategory string
	Duration        time.Duration
	ScrollID        *string
	Results         []string
	OutputItemSizes []int64
}

type WorkItemRepo interface {
	// InsertWorkItems atomically inserts a batch belonging to one step and
	// one service (§4.1 InsertWorkItems).
	InsertWorkItems(ctx context.Context, tx *gorm.DB, items []*domain.WorkItem) error

	GetByID(ctx context.Context, tx *gorm.DB, id uint64) (*domain.WorkItem, error)

	// UpdateWorkItemStatus writes only if the current row's status allows
	// the transition to newStatus; returns ErrStaleUpdate otherwise
	// (§4.1, §4.4 state machine).
	UpdateWorkItemStatus(ctx context.Context, tx *gorm.DB, id uint64, newStatus domain.WorkItemStatus, upd WorkItemUpdate) (*domain.WorkItem, error)

	// ClaimReady selects up to n READY items for (jobID, serviceID) using
	// SKIP LOCKED, ordered by id ascending, and marks them QUEUED or
	// RUNNING (§4.3 Scheduler step 2).
	ClaimReady(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string, n int, markStatus domain.WorkItemStatus) ([]*domain.WorkItem, error)

	CountReady(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string) (int, error)

	ListCompleteForStep(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int) ([]*domain.WorkItem, error)

	MaxSortIndexForJobService(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string) (int64, error)

	// ListStuck returns RUNNING items whose updated_at is older than cutoff
	// and whose job is not terminal, for the reaper (§4.9).
	ListStuck(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]*domain.WorkItem, error)

	CountTerminalForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, status domain.WorkItemStatus) (int, error)

	// CountTerminalForStep is CountTerminalForJob narrowed to a single
	// workflow step, for self-continuation budgets that must not be
	// inflated by downstream steps completing concurrently (§4.5).
	CountTerminalForStep(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int, status domain.WorkItemStatus) (int, error)

	// GetRunningForJob returns the job's single RUNNING work item, used by
	// the legacy callback ingress (§4.8) when the caller doesn't name a
	// workItemID explicitly. Returns nil if zero or more than one item is
	// RUNNING — the caller is then required to disambiguate explicitly.
	GetRunningForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*domain.WorkItem, error)
}

type workItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkItemRepo(db *gorm.DB, baseLog *logger.Logger) WorkItemRepo {
	return &workItemRepo{db: db, log: baseLog.With("repo", "WorkItemRepo")}
}

func (r *workItemRepo) resolve(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *workItemRepo) InsertWorkItems(ctx context.Context, tx *gorm.DB, items []*domain.WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.resolve(tx).WithContext(ctx).Create(&items).Error
}

func (r *workItemRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint64) (*domain.WorkItem, error) {
	var item domain.WorkItem
	err := r.resolve(tx).WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWorkItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *workItemRepo) UpdateWorkItemStatus(ctx context.Context, tx *gorm.DB, id uint64, newStatus domain.WorkItemStatus, upd WorkItemUpdate) (*domain.WorkItem, error) {
	db := r.resolve(tx).WithContext(ctx)
	var current domain.WorkItem
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWorkItemNotFound
	}
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, newStatus) {
		return nil, ErrStaleUpdate
	}

	fields := map[string]interface{}{
		"status":     newStatus,
		"updated_at": time.Now(),
	}
	if upd.Message != "" {
		fields["message"] = upd.Message
	}
	if upd.MessageCategory != "" {
		fields["message_category"] = upd.MessageCategory
	}
	if upd.Duration > 0 {
		fields["duration_ns"] = upd.Duration
	}
	if upd.ScrollID != nil {
		fields["scroll_id"] = *upd.ScrollID
	}
	if upd.Results != nil {
		fields["results"] = domain.EncodeStrings(upd.Results)
	}
	if upd.OutputItemSizes != nil {
		fields["output_item_sizes"] = domain.EncodeInt64s(upd.OutputItemSizes)
	}
	if newStatus == domain.ItemRunning && current.StartedAt == nil {
		now := time.Now()
		fields["started_at"] = now
	}
	if newStatus == domain.ItemReady {
		// Retry: clear the stale run markers so a future RUNNING
		// transition re-stamps started_at.
		fields["started_at"] = nil
		fields["retry_count"] = gorm.Expr("retry_count + 1")
	}

	if err := db.Model(&domain.WorkItem{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return nil, err
	}
	return r.GetByID(ctx, tx, id)
}

// ClaimReady is the scheduler's core primitive (§4.3): select the first n
// READY items for (jobID, serviceID) ordered by id, SKIP LOCKED so
// concurrent scheduler replicas never block on each other and never
// double-assign.
func (r *workItemRepo) ClaimReady(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string, n int, markStatus domain.WorkItemStatus) ([]*domain.WorkItem, error) {
	if n <= 0 {
		return nil, nil
	}
	db := r.resolve(tx).WithContext(ctx)
	var items []*domain.WorkItem
	err := db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("job_id = ? AND service_id = ? AND status = ?", jobID, serviceID, domain.ItemReady).
		Order("id ASC").
		Limit(n).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	ids := make([]uint64, len(items))
	now := time.Now()
	for i, it := range items {
		ids[i] = it.ID
		it.Status = markStatus
		it.StartedAt = &now
	}
	fields := map[string]interface{}{
		"status":     markStatus,
		"updated_at": now,
	}
	if markStatus == domain.ItemRunning {
		fields["started_at"] = now
	}
	if err := db.Model(&domain.WorkItem{}).Where("id IN ?", ids).Updates(fields).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *workItemRepo) CountReady(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string) (int, error) {
	var count int64
	err := r.resolve(tx).WithContext(ctx).Model(&domain.WorkItem{}).
		Where("job_id = ? AND service_id = ? AND status = ?", jobID, serviceID, domain.ItemReady).
		Count(&count).Error
	return int(count), err
}

func (r *workItemRepo) ListCompleteForStep(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int) ([]*domain.WorkItem, error) {
	var items []*domain.WorkItem
	err := r.resolve(tx).WithContext(ctx).
		Where("job_id = ? AND workflow_step_index = ? AND status = ?", jobID, stepIndex, domain.ItemSuccessful).
		Order("sort_index ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (r *workItemRepo) MaxSortIndexForJobService(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string) (int64, error) {
	var max int64
	row := r.resolve(tx).WithContext(ctx).Model(&domain.WorkItem{}).
		Where("job_id = ? AND service_id = ?", jobID, serviceID).
		Select("COALESCE(MAX(sort_index), -1)").Row()
	if err := row.Scan(&max); err != nil {
		return -1, err
	}
	return max, nil
}

func (r *workItemRepo) ListStuck(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]*domain.WorkItem, error) {
	var items []*domain.WorkItem
	q := r.resolve(tx).WithContext(ctx).
		Joins("JOIN jobs ON jobs.id = work_items.job_id").
		Where("work_items.status = ? AND work_items.updated_at < ? AND jobs.status NOT IN ?",
			domain.ItemRunning, cutoff, nonTerminalExclusionList()).
		Order("work_items.updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&items).Error
	return items, err
}

func (r *workItemRepo) GetRunningForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*domain.WorkItem, error) {
	var items []*domain.WorkItem
	err := r.resolve(tx).WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, domain.ItemRunning).
		Limit(2).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return nil, nil
	}
	return items[0], nil
}

func nonTerminalExclusionList() []domain.JobStatus {
	return []domain.JobStatus{
		domain.JobSuccessful, domain.JobFailed, domain.JobCanceled, domain.JobCompleteWithErrors,
	}
}

func (r *workItemRepo) CountTerminalForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, status domain.WorkItemStatus) (int, error) {
	var count int64
	err := r.resolve(tx).WithContext(ctx).Model(&domain.WorkItem{}).
		Where("job_id = ? AND status = ?", jobID, status).
		Count(&count).Error
	return int(count), err
}

func (r *workItemRepo) CountTerminalForStep(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stepIndex int, status domain.WorkItemStatus) (int, error) {
	var count int64
	err := r.resolve(tx).WithContext(ctx).Model(&domain.WorkItem{}).
		Where("job_id = ? AND workflow_step_index = ? AND status = ?", jobID, stepIndex, status).
		Count(&count).Error
	return int(count), err
}
