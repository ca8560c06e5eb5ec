// Package lifecycle implements §4.6: job progress computation, final
// status decisions, and preview pause/resume.
package lifecycle

import (
	"context"
	"fmt"
	"math"

	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/store"
)

// StepWeight is the sequential-step-weighting contribution factor for a
// step (§4.6: "early-pipeline work ... contributes less than later
// CPU-heavy steps"). Weights across a chain need not sum to 1; Progress
// normalizes.
type StepWeight struct {
	StepIndex int
	Weight    float64
}

type Manager struct {
	jobs     store.JobRepo
	steps    store.WorkflowStepRepo
	links    store.JobLinkRepo
	messages store.JobMessageRepo
	userWork store.UserWorkRepo
}

func New(jobs store.JobRepo, steps store.WorkflowStepRepo, links store.JobLinkRepo, messages store.JobMessageRepo, userWork store.UserWorkRepo) *Manager {
	return &Manager{jobs: jobs, steps: steps, links: links, messages: messages, userWork: userWork}
}

// Progress computes job progress from per-step completion, weighted by
// weights when given. A step absent from weights falls back to its own
// expected work-item count as its weight (§12 supplement: a step that
// fans out to more items — typically the CPU-heavy ones later in the
// chain — naturally counts for more of the job than a single-item
// query-cmr step, without needing a separately configured weight table).
// Progress itself is a pure function of current counts and can drop when a
// step's expected count grows; the update processor keeps the stored job
// progress non-decreasing by writing it only when it exceeds the current
// value.
func Progress(allSteps []*domain.WorkflowStep, weights []StepWeight) int {
	if len(allSteps) == 0 {
		return 0
	}
	weightOf := func(s *domain.WorkflowStep) float64 {
		for _, w := range weights {
			if w.StepIndex == s.StepIndex {
				return w.Weight
			}
		}
		if s.WorkItemCount > 0 {
			return float64(s.WorkItemCount)
		}
		return 1.0
	}

	var totalWeight, weightedProgress float64
	for _, s := range allSteps {
		w := weightOf(s)
		totalWeight += w
		stepProgress := 1.0
		if s.WorkItemCount > 0 {
			stepProgress = float64(s.CompletedWorkItemCount) / float64(s.WorkItemCount)
		} else if !s.IsComplete {
			stepProgress = 0
		}
		if stepProgress > 1 {
			stepProgress = 1
		}
		weightedProgress += w * stepProgress
	}
	if totalWeight == 0 {
		return 0
	}
	pct := int(math.Floor(100 * weightedProgress / totalWeight))
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// AllComplete reports whether every step has is_complete set, meaning the
// job is a candidate for final status computation.
func AllComplete(allSteps []*domain.WorkflowStep) bool {
	if len(allSteps) == 0 {
		return false
	}
	for _, s := range allSteps {
		if !s.IsComplete {
			return false
		}
	}
	return true
}

// FinalizeJob applies §4.6's final-status decision table once all steps
// are complete. Must run inside the caller's LockJob transaction.
func (m *Manager) FinalizeJob(ctx context.Context, tx *gorm.DB, job *domain.Job) error {
	errorCount, err := m.messages.CountForJobByLevel(ctx, tx, job.ID, domain.MessageError)
	if err != nil {
		return err
	}
	warningCount, err := m.messages.CountForJobByLevel(ctx, tx, job.ID, domain.MessageWarning)
	if err != nil {
		return err
	}
	dataLinkCount, err := m.links.CountDataLinksForJob(ctx, tx, job.ID)
	if err != nil {
		return err
	}

	var status domain.JobStatus
	switch {
	case errorCount > 0 && dataLinkCount > 0:
		status = domain.JobCompleteWithErrors
	case errorCount > 0 && dataLinkCount == 0:
		status = domain.JobFailed
	default:
		status = domain.JobSuccessful
	}

	message := finalMessage(status, errorCount, warningCount)

	if dataLinkCount == 0 && status == domain.JobSuccessful {
		// §12 Supplemented: zero-output warning — a message only, no
		// synthetic link.
		if err := m.messages.Create(ctx, tx, &domain.JobMessage{
			JobID:   job.ID,
			Message: "The job completed without producing any output links.",
			Level:   domain.MessageWarning,
		}); err != nil {
			return err
		}
	}

	return m.jobs.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
		"status":   status,
		"progress": 100,
		"message":  message,
	})
}

func finalMessage(status domain.JobStatus, errorCount, warningCount int) string {
	switch {
	case errorCount == 1:
		return "The job completed with one error. See the errors endpoint for details."
	case errorCount > 1:
		return fmt.Sprintf("The job completed with %d errors. See the errors endpoint for details.", errorCount)
	case warningCount == 1:
		return "The job completed with one warning. See the warnings endpoint for details."
	case warningCount > 1:
		return fmt.Sprintf("The job completed with %d warnings. See the warnings endpoint for details.", warningCount)
	case status == domain.JobSuccessful:
		return "The job has completed successfully."
	default:
		return ""
	}
}

// HandlePreviewPause implements §4.6's preview gate: when the first item
// of the final step completes and the job is PREVIEWING, pause it instead
// of letting it run to completion.
func (m *Manager) HandlePreviewPause(ctx context.Context, tx *gorm.DB, job *domain.Job, isFinalStep bool, completedCountForStep int) error {
	if job.Status != domain.JobPreviewing || !isFinalStep || completedCountForStep != 1 {
		return nil
	}
	return m.jobs.UpdateFields(ctx, tx, job.ID, map[string]interface{}{"status": domain.JobPaused})
}

// Resume transitions PAUSED → RUNNING and recomputes readyCount from the
// READY rows for every service still owed work on this job.
func (m *Manager) Resume(ctx context.Context, tx *gorm.DB, job *domain.Job, serviceIDs []string) error {
	if job.Status != domain.JobPaused {
		return nil
	}
	for _, serviceID := range serviceIDs {
		if err := m.userWork.RecomputeReadyCount(ctx, tx, job.ID, serviceID); err != nil {
			return err
		}
	}
	return m.jobs.UpdateFields(ctx, tx, job.ID, map[string]interface{}{"status": domain.JobRunning})
}
