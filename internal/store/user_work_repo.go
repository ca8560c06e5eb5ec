package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/logger"
)

// UserWorkRepo maintains the per-(job,service) ready/running counters used
// by the scheduler's fairness pass (§4.2, §5).
type UserWorkRepo interface {
	// Upsert ensures a row exists for (jobID, serviceID), creating it with
	// zero counters if absent.
	Upsert(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string) error

	IncrementReady(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string, n int) error

	// DecrementRunning clamps at zero: it never produces a negative
	// runningCount. Returns ErrCounterUnderflow when the row held less than
	// n (or does not exist), so callers can log drift without failing the
	// caller's transaction outright.
	DecrementRunning(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string, n int) error

	IncrementRunning(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string, n int) error
	DecrementReady(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string, n int) error

	Get(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string) (*domain.UserWork, error)

	// ListRunnable returns every (jobID, serviceID) row with readyCount > 0,
	// ordered by jobID then serviceID ascending (a fixed order, not
	// round-robin).
	ListRunnable(ctx context.Context, tx *gorm.DB, limit int) ([]*domain.UserWork, error)

	// RecomputeReadyCount recounts directly from work_items and overwrites
	// readyCount/runningCount, repairing drift from crashed processors
	// (§4.1 RecomputeReadyCount).
	RecomputeReadyCount(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string) error

	DeleteForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error
}

type userWorkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserWorkRepo(db *gorm.DB, baseLog *logger.Logger) UserWorkRepo {
	return &userWorkRepo{db: db, log: baseLog.With("repo", "UserWorkRepo")}
}

func (r *userWorkRepo) resolve(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *userWorkRepo) Upsert(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string) error {
	row := domain.UserWork{JobID: jobID, ServiceID: serviceID}
	return r.resolve(tx).WithContext(ctx).
		Where("job_id = ? AND service_id = ?", jobID, serviceID).
		FirstOrCreate(&row).Error
}

func (r *userWorkRepo) IncrementReady(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string, n int) error {
	if n == 0 {
		return nil
	}
	if err := r.Upsert(ctx, tx, jobID, serviceID); err != nil {
		return err
	}
	return r.resolve(tx).WithContext(ctx).Model(&domain.UserWork{}).
		Where("job_id = ? AND service_id = ?", jobID, serviceID).
		Update("ready_count", gorm.Expr("ready_count + ?", n)).Error
}

func (r *userWorkRepo) DecrementReady(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string, n int) error {
	return r.clampDecrement(ctx, tx, jobID, serviceID, "ready_count", n)
}

func (r *userWorkRepo) IncrementRunning(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string, n int) error {
	if n == 0 {
		return nil
	}
	if err := r.Upsert(ctx, tx, jobID, serviceID); err != nil {
		return err
	}
	return r.resolve(tx).WithContext(ctx).Model(&domain.UserWork{}).
		Where("job_id = ? AND service_id = ?", jobID, serviceID).
		Update("running_count", gorm.Expr("running_count + ?", n)).Error
}

func (r *userWorkRepo) DecrementRunning(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string, n int) error {
	return r.clampDecrement(ctx, tx, jobID, serviceID, "running_count", n)
}

// clampDecrement subtracts n from column but never below zero, returning
// ErrCounterUnderflow when the row didn't have enough to subtract (§5
// "Counters never go negative; clamp at zero and log").
func (r *userWorkRepo) clampDecrement(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID, column string, n int) error {
	if n == 0 {
		return nil
	}
	db := r.resolve(tx).WithContext(ctx)
	var current domain.UserWork
	err := db.Where("job_id = ? AND service_id = ?", jobID, serviceID).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCounterUnderflow
	}
	if err != nil {
		return err
	}
	var value int
	if column == "ready_count" {
		value = current.ReadyCount
	} else {
		value = current.RunningCount
	}
	clamped := value - n
	underflowed := clamped < 0
	if underflowed {
		clamped = 0
	}
	if err := db.Model(&domain.UserWork{}).
		Where("job_id = ? AND service_id = ?", jobID, serviceID).
		Update(column, clamped).Error; err != nil {
		return err
	}
	if underflowed {
		r.log.Warn("user_work counter underflow clamped to zero",
			"jobID", jobID, "serviceID", serviceID, "column", column, "attemptedDelta", n)
		return ErrCounterUnderflow
	}
	return nil
}

func (r *userWorkRepo) Get(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string) (*domain.UserWork, error) {
	var row domain.UserWork
	err := r.resolve(tx).WithContext(ctx).
		Where("job_id = ? AND service_id = ?", jobID, serviceID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *userWorkRepo) ListRunnable(ctx context.Context, tx *gorm.DB, limit int) ([]*domain.UserWork, error) {
	var rows []*domain.UserWork
	q := r.resolve(tx).WithContext(ctx).
		Where("ready_count > 0").
		Order("job_id ASC, service_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (r *userWorkRepo) RecomputeReadyCount(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, serviceID string) error {
	db := r.resolve(tx).WithContext(ctx)
	var ready int64
	if err := db.Model(&domain.WorkItem{}).
		Where("job_id = ? AND service_id = ? AND status = ?", jobID, serviceID, domain.ItemReady).
		Count(&ready).Error; err != nil {
		return err
	}
	var running int64
	if err := db.Model(&domain.WorkItem{}).
		Where("job_id = ? AND service_id = ? AND status IN ?", jobID, serviceID, []domain.WorkItemStatus{domain.ItemQueued, domain.ItemRunning}).
		Count(&running).Error; err != nil {
		return err
	}
	if err := r.Upsert(ctx, tx, jobID, serviceID); err != nil {
		return err
	}
	return db.Model(&domain.UserWork{}).
		Where("job_id = ? AND service_id = ?", jobID, serviceID).
		Updates(map[string]interface{}{
			"ready_count":   ready,
			"running_count": running,
		}).Error
}

func (r *userWorkRepo) DeleteForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error {
	return r.resolve(tx).WithContext(ctx).Where("job_id = ?", jobID).Delete(&domain.UserWork{}).Error
}
