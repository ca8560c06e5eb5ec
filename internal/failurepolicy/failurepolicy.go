// Package failurepolicy implements §4.7: deciding what a failed or
// warning work item does to its owning job.
package failurepolicy

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/config"
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/store"
)

// Outcome tells the caller whether to keep invoking the next-step planner.
type Outcome struct {
	Continue  bool
	JobStatus domain.JobStatus // status to apply, "" if unchanged
}

type Policy struct {
	messages store.JobMessageRepo
	cfg      config.Config
}

func New(messages store.JobMessageRepo, cfg config.Config) *Policy {
	return &Policy{messages: messages, cfg: cfg}
}

// Apply runs inside the caller's LockJob transaction. serviceIsQueryCmr
// tells it whether the failing item belongs to the query-cmr step
// (§4.7: "FAILED from the query-cmr step fails the whole job").
func (p *Policy) Apply(ctx context.Context, tx *gorm.DB, job *domain.Job, item *domain.WorkItem, serviceIsQueryCmr bool) (Outcome, error) {
	if item.Status == domain.ItemWarning {
		return Outcome{Continue: true}, nil
	}
	if item.Status != domain.ItemFailed {
		return Outcome{Continue: true}, nil
	}

	if serviceIsQueryCmr {
		if err := p.addMessage(ctx, tx, job.ID, item, domain.MessageError); err != nil {
			return Outcome{}, err
		}
		return Outcome{Continue: false, JobStatus: domain.JobFailed}, nil
	}

	if err := p.addMessage(ctx, tx, job.ID, item, domain.MessageError); err != nil {
		return Outcome{}, err
	}

	errorCount, err := p.messages.CountForJobByLevel(ctx, tx, job.ID, domain.MessageError)
	if err != nil {
		return Outcome{}, err
	}

	if p.cfg.MaxErrorsForJob > 0 && errorCount > p.cfg.MaxErrorsForJob {
		return Outcome{Continue: false, JobStatus: domain.JobFailed}, nil
	}
	if job.NumInputGranules > 0 && p.cfg.MaxPercentErrorsForJob > 0 {
		pct := float64(errorCount) / float64(job.NumInputGranules) * 100
		if pct > p.cfg.MaxPercentErrorsForJob {
			return Outcome{Continue: false, JobStatus: domain.JobFailed}, nil
		}
	}

	status := domain.JobStatus("")
	if job.Status == domain.JobRunning {
		status = domain.JobRunningWithErrors
	}
	return Outcome{Continue: true, JobStatus: status}, nil
}

func (p *Policy) addMessage(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, item *domain.WorkItem, level domain.JobMessageLevel) error {
	msg := &domain.JobMessage{
		JobID:    jobID,
		Message:  item.Message,
		Level:    level,
		Category: item.MessageCategory,
	}
	return p.messages.Create(ctx, tx, msg)
}
