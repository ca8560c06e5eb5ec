package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/logger"
)

// JobRepo is the generic job-row CRUD surface. Transaction-boundary methods
// (the ones that must participate in a LockJob transaction) take *gorm.DB
// explicitly so callers can pass the locked tx.
type JobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *domain.Job) (*domain.Job, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Job, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) resolve(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *jobRepo) Create(ctx context.Context, tx *gorm.DB, job *domain.Job) (*domain.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = domain.JobAccepted
	}
	if err := r.resolve(tx).WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := r.resolve(tx).WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.resolve(tx).WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Delete cascades to workflow_steps, work_items, job_links, job_messages,
// and user_work: a Job exclusively owns those rows (§3 Ownership).
func (r *jobRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.resolve(tx).WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		for _, table := range []string{"workflow_steps", "work_items", "job_links", "job_messages", "user_work"} {
			if err := txx.Exec("DELETE FROM "+table+" WHERE job_id = ?", id).Error; err != nil {
				return err
			}
		}
		return txx.Where("id = ?", id).Delete(&domain.Job{}).Error
	})
}

// NormalizeLabels lowercases and truncates each label to 255 characters
// (§3 Job invariants).
func NormalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, domain.NormalizeLabel(l))
	}
	return out
}
