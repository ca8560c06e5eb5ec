package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nasa/harmony-workflow-core/internal/domain"
)

// WithJobLock opens a transaction, takes a blocking row lock
// (`SELECT ... FOR UPDATE`) on the job row, and runs fn with that
// transaction. It serializes all workflow mutations for jobID: concurrent
// callers block on the same row rather than racing (§4.1 LockJob).
//
// Every read inside fn that will lead to a write must go through tx, not
// the outer *gorm.DB, so it shares the same snapshot and lock.
func WithJobLock(ctx context.Context, db *gorm.DB, jobID uuid.UUID, fn func(tx *gorm.DB, job *domain.Job) error) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", jobID).
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return fn(tx, &job)
	})
}
