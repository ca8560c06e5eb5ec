package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/logger"
)

type JobLinkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, link *domain.JobLink) error
	ListForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*domain.JobLink, error)
	CountDataLinksForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int, error)
}

type jobLinkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobLinkRepo(db *gorm.DB, baseLog *logger.Logger) JobLinkRepo {
	return &jobLinkRepo{db: db, log: baseLog.With("repo", "JobLinkRepo")}
}

func (r *jobLinkRepo) resolve(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *jobLinkRepo) Create(ctx context.Context, tx *gorm.DB, link *domain.JobLink) error {
	return r.resolve(tx).WithContext(ctx).Create(link).Error
}

func (r *jobLinkRepo) ListForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*domain.JobLink, error) {
	var links []*domain.JobLink
	err := r.resolve(tx).WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&links).Error
	return links, err
}

// CountDataLinksForJob counts rel=data links, used to decide whether a
// successful job produced zero outputs (§12 Supplemented: zero-output
// warning).
func (r *jobLinkRepo) CountDataLinksForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int, error) {
	var count int64
	err := r.resolve(tx).WithContext(ctx).Model(&domain.JobLink{}).
		Where("job_id = ? AND rel = ?", jobID, domain.JobLinkRelData).
		Count(&count).Error
	return int(count), err
}
