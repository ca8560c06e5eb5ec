// Package dbx owns the *gorm.DB connection lifecycle and the migration set,
// adapted from the teacher's internal/data/repos/testutil and
// internal/db conventions (gorm.Open + AutoMigrate against Postgres; there
// is no sqlite path).
package dbx

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nasa/harmony-workflow-core/internal/domain"
)

// Open connects to Postgres and runs AutoMigrate for every table owned by
// the orchestration core (§3).
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Job{},
		&domain.WorkflowStep{},
		&domain.WorkItem{},
		&domain.JobLink{},
		&domain.JobMessage{},
		&domain.UserWork{},
	)
}

// Context carries a request/transaction-scoped context.Context plus the
// *gorm.DB it should execute against, mirroring the teacher's
// platform/dbctx.Context so repository methods never choose their own
// transaction boundary.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func (c Context) context() context.Context {
	if c.Ctx != nil {
		return c.Ctx
	}
	return context.Background()
}

// DB returns tx.WithContext(c.Ctx) if a transaction was supplied, otherwise
// db.WithContext(c.Ctx).
func (c Context) DB(db *gorm.DB) *gorm.DB {
	if c.Tx != nil {
		return c.Tx.WithContext(c.context())
	}
	return db.WithContext(c.context())
}
