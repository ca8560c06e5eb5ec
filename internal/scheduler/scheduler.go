// Package scheduler implements §4.3: handing out ready work items to
// polling service workers while bounding concurrency via the user_work
// counters and never double-assigning a row across replicas.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/config"
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/queue"
	"github.com/nasa/harmony-workflow-core/internal/store"
)

// Assignment is a work item plus the context a worker needs to execute it:
// the step's operation JSON and a per-item staging prefix unique within
// object storage (§4.3 step 3).
type Assignment struct {
	WorkItem      *domain.WorkItem
	OperationJSON string
	StagingPrefix string
}

type Scheduler struct {
	db         *gorm.DB
	jobs       store.JobRepo
	steps      store.WorkflowStepRepo
	items      store.WorkItemRepo
	userWork   store.UserWorkRepo
	wakeups    queue.WakeupQueue
	cfg        config.Config
	log        *logger.Logger
}

func New(db *gorm.DB, jobs store.JobRepo, steps store.WorkflowStepRepo, items store.WorkItemRepo, userWork store.UserWorkRepo, wakeups queue.WakeupQueue, cfg config.Config, baseLog *logger.Logger) *Scheduler {
	return &Scheduler{
		db: db, jobs: jobs, steps: steps, items: items, userWork: userWork,
		wakeups: wakeups, cfg: cfg, log: baseLog.With("component", "Scheduler"),
	}
}

// PollWakeup consumes the next pending wake-up, of any service, blocking at
// most timeout (§4.3 step 1), and reports whether it was for serviceID. A
// false return means no signal was pending or the consumed signal belonged
// to another service.
func (s *Scheduler) PollWakeup(ctx context.Context, serviceID string, timeout time.Duration) (bool, error) {
	got, err := s.wakeups.Consume(ctx, timeout)
	if err != nil {
		return false, err
	}
	return got == serviceID, nil
}

// Assign implements "give me up to N work items for service S": it walks
// user_work rows with readyCount > 0 for serviceID in jobID ascending order
// (see ListRunnable; no least-recently-served tracking), and SKIP
// LOCKED-claims the still-missing count from each candidate job until it
// has collected n total or runs out of candidates.
func (s *Scheduler) Assign(ctx context.Context, serviceID string, n int) ([]Assignment, error) {
	if n <= 0 {
		return nil, nil
	}
	markStatus := domain.ItemRunning
	if s.cfg.UseServiceQueues {
		markStatus = domain.ItemQueued
	}

	var assignments []Assignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidates, err := s.userWork.ListRunnable(ctx, tx, 0)
		if err != nil {
			return err
		}
		for _, cand := range candidates {
			if cand.ServiceID != serviceID {
				continue
			}
			remaining := n - len(assignments)
			if remaining <= 0 {
				break
			}

			job, err := s.jobs.GetByID(ctx, tx, cand.JobID)
			if err != nil {
				if err == store.ErrJobNotFound {
					continue
				}
				return err
			}
			if job.Status.Terminal() || job.Status == domain.JobPaused {
				continue
			}

			claimed, err := s.items.ClaimReady(ctx, tx, cand.JobID, serviceID, remaining, markStatus)
			if err != nil {
				return err
			}
			if len(claimed) == 0 {
				// Drift repair (§4.3 step 2, §5): counter says ready work
				// exists but the row-level query found none.
				if err := s.userWork.RecomputeReadyCount(ctx, tx, cand.JobID, serviceID); err != nil {
					return err
				}
				continue
			}
			if err := s.userWork.DecrementReady(ctx, tx, cand.JobID, serviceID, len(claimed)); err != nil && err != store.ErrCounterUnderflow {
				return err
			}
			if err := s.userWork.IncrementRunning(ctx, tx, cand.JobID, serviceID, len(claimed)); err != nil {
				return err
			}

			for _, item := range claimed {
				step, err := s.steps.Get(ctx, tx, item.JobID, item.WorkflowStepIndex)
				if err != nil {
					return err
				}
				opJSON := ""
				if step != nil {
					opJSON = step.Operation
				}
				assignments = append(assignments, Assignment{
					WorkItem:      item,
					OperationJSON: opJSON,
					StagingPrefix: stagingPrefix(item.JobID, item.ID),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func stagingPrefix(jobID uuid.UUID, workItemID uint64) string {
	return fmt.Sprintf("%s/%d/", jobID, workItemID)
}

// CmrPageCount computes the expected query-cmr step item count from a
// granule total, used after numInputGranules shrinks (§4.4: "recompute the
// expected count of the first (query-cmr) step").
func CmrPageCount(numInputGranules, cmrMaxPageSize int) int {
	if cmrMaxPageSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(numInputGranules) / float64(cmrMaxPageSize)))
}
