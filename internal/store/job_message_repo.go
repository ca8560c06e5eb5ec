package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/logger"
)

type JobMessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, msg *domain.JobMessage) error
	ListForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*domain.JobMessage, error)
	CountForJobByLevel(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, level domain.JobMessageLevel) (int, error)
}

type jobMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobMessageRepo(db *gorm.DB, baseLog *logger.Logger) JobMessageRepo {
	return &jobMessageRepo{db: db, log: baseLog.With("repo", "JobMessageRepo")}
}

func (r *jobMessageRepo) resolve(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *jobMessageRepo) Create(ctx context.Context, tx *gorm.DB, msg *domain.JobMessage) error {
	return r.resolve(tx).WithContext(ctx).Create(msg).Error
}

func (r *jobMessageRepo) ListForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*domain.JobMessage, error) {
	var msgs []*domain.JobMessage
	err := r.resolve(tx).WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

// CountForJobByLevel backs the failure-policy error/percent-error thresholds
// (§4.7).
func (r *jobMessageRepo) CountForJobByLevel(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, level domain.JobMessageLevel) (int, error) {
	var count int64
	err := r.resolve(tx).WithContext(ctx).Model(&domain.JobMessage{}).
		Where("job_id = ? AND level = ?", jobID, level).
		Count(&count).Error
	return int(count), err
}
