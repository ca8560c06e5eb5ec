// Package updateprocessor implements §4.4: dequeuing work-item updates,
// validating state transitions, applying retries, recording outputs, and
// advancing the workflow.
package updateprocessor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/apierr"
	"github.com/nasa/harmony-workflow-core/internal/config"
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/failurepolicy"
	"github.com/nasa/harmony-workflow-core/internal/lifecycle"
	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/planner"
	"github.com/nasa/harmony-workflow-core/internal/scheduler"
	"github.com/nasa/harmony-workflow-core/internal/stac"
	"github.com/nasa/harmony-workflow-core/internal/store"
)

type Processor struct {
	db       *gorm.DB
	jobs     store.JobRepo
	steps    store.WorkflowStepRepo
	items    store.WorkItemRepo
	links    store.JobLinkRepo
	userWork store.UserWorkRepo

	planner  *planner.Planner
	policy   *failurepolicy.Policy
	lifecycl *lifecycle.Manager

	stac  stac.Reader
	sizes stac.SizeResolver

	cfg config.Config
	log *logger.Logger
}

func New(
	db *gorm.DB,
	jobs store.JobRepo, steps store.WorkflowStepRepo, items store.WorkItemRepo,
	links store.JobLinkRepo, userWork store.UserWorkRepo,
	pl *planner.Planner, policy *failurepolicy.Policy, lc *lifecycle.Manager,
	stacReader stac.Reader, sizes stac.SizeResolver,
	cfg config.Config, baseLog *logger.Logger,
) *Processor {
	return &Processor{
		db: db, jobs: jobs, steps: steps, items: items, links: links, userWork: userWork,
		planner: pl, policy: policy, lifecycl: lc,
		stac: stacReader, sizes: sizes,
		cfg: cfg, log: baseLog.With("component", "UpdateProcessor"),
	}
}

// ApplyUpdate is the full §4.4 pipeline for one update message: Preprocess
// outside any lock, then the transactional state-machine pass under
// LockJob. The queue-drain loop acks the message regardless of the
// returned error (§4.2); only apierr-classified Transient errors are
// worth an outer retry before that ack.
func (p *Processor) ApplyUpdate(ctx context.Context, u Update) error {
	item, err := p.items.GetByID(ctx, nil, u.WorkItemID)
	if err != nil {
		if err == store.ErrWorkItemNotFound {
			p.log.Warn("update for unknown work item", "workItemID", u.WorkItemID)
			return nil
		}
		return apierr.Transient(err)
	}

	isLastStep, err := p.isLastStep(ctx, item.JobID, item.WorkflowStepIndex)
	if err != nil {
		return apierr.Transient(err)
	}
	pre := p.Preprocess(ctx, u, isLastStep)

	return p.process(ctx, item.JobID, u, pre)
}

func (p *Processor) isLastStep(ctx context.Context, jobID uuid.UUID, stepIndex int) (bool, error) {
	all, err := p.steps.ListForJob(ctx, nil, jobID)
	if err != nil {
		return false, err
	}
	maxIndex := -1
	for _, s := range all {
		if s.StepIndex > maxIndex {
			maxIndex = s.StepIndex
		}
	}
	return stepIndex == maxIndex, nil
}

// process runs the §4.4 transactional state machine under LockJob.
func (p *Processor) process(ctx context.Context, jobID uuid.UUID, u Update, pre PreprocessResult) error {
	return store.WithJobLock(ctx, p.db, jobID, func(tx *gorm.DB, job *domain.Job) error {
		item, err := p.items.GetByID(ctx, tx, u.WorkItemID)
		if err != nil {
			if err == store.ErrWorkItemNotFound {
				return nil
			}
			return apierr.Transient(err)
		}

		// §4.4: ignore an update against an already-terminal row.
		if item.Status.Terminal() {
			p.log.Info("ignoring update to terminal work item", "workItemID", item.ID, "status", item.Status)
			return nil
		}

		// §4.4: if the job is terminal and the incoming status isn't a
		// CANCELED acknowledgment, this is drift — clean up and ignore.
		if job.Status.Terminal() && pre.Status != domain.ItemCanceled {
			if err := p.userWork.DeleteForJob(ctx, tx, job.ID); err != nil {
				return apierr.Transient(err)
			}
			return nil
		}

		newStatus := pre.Status
		results := u.Results
		sizes := pre.OutputItemSizes
		if sizes == nil {
			sizes = u.OutputItemSizes
		}
		message := u.Message
		category := u.MessageCategory
		if pre.FailureMessage != "" {
			message = pre.FailureMessage
			category = pre.FailureCategory
		}

		if newStatus == domain.ItemSuccessful && len(results) == 0 {
			newStatus = domain.ItemFailed
			message = "Service did not return any outputs."
			category = "harmony.ServiceRuntimeError"
		}

		if newStatus == domain.ItemFailed && item.RetryCount < p.cfg.WorkItemRetryLimit {
			if _, err := p.items.UpdateWorkItemStatus(ctx, tx, item.ID, domain.ItemReady, store.WorkItemUpdate{
				Message: message, MessageCategory: category,
			}); err != nil {
				return apierr.Transient(err)
			}
			if err := p.userWork.IncrementReady(ctx, tx, job.ID, item.ServiceID, 1); err != nil {
				return apierr.Transient(err)
			}
			if err := p.userWork.DecrementRunning(ctx, tx, job.ID, item.ServiceID, 1); err != nil && err != store.ErrCounterUnderflow {
				return apierr.Transient(err)
			}
			return nil
		}

		duration := time.Duration(u.Duration)
		if item.StartedAt != nil {
			measured := time.Since(*item.StartedAt)
			if measured > duration {
				duration = measured
			}
		}

		updated, err := p.items.UpdateWorkItemStatus(ctx, tx, item.ID, newStatus, store.WorkItemUpdate{
			Message: message, MessageCategory: category,
			Duration: duration,
			ScrollID: nonEmptyPtr(u.ScrollID),
			Results:  results, OutputItemSizes: sizes,
		})
		if err != nil {
			return apierr.Transient(err)
		}

		if err := p.applyGranuleShrink(ctx, tx, job, u.Hits); err != nil {
			return err
		}

		if updated.Status == domain.ItemSuccessful && len(pre.CatalogItems) > 0 {
			if err := p.createJobLinks(ctx, tx, job.ID, pre.CatalogItems); err != nil {
				return apierr.Transient(err)
			}
		}

		stepComplete, err := p.advanceStep(ctx, tx, job, updated)
		if err != nil {
			return err
		}

		allSteps, err := p.steps.ListForJob(ctx, tx, job.ID)
		if err != nil {
			return apierr.Transient(err)
		}
		progress := lifecycle.Progress(allSteps, nil)
		if progress > job.Progress {
			if err := p.jobs.UpdateFields(ctx, tx, job.ID, map[string]interface{}{"progress": progress}); err != nil {
				return apierr.Transient(err)
			}
			job.Progress = progress
		}

		if stepComplete {
			if err := p.userWork.DeleteForJob(ctx, tx, job.ID); err != nil {
				return apierr.Transient(err)
			}
		}

		isQueryCmr := false
		if step, err := p.steps.Get(ctx, tx, job.ID, updated.WorkflowStepIndex); err == nil && step != nil {
			isQueryCmr = step.IsQueryCmr()
		}

		outcome, err := p.policy.Apply(ctx, tx, job, updated, isQueryCmr)
		if err != nil {
			return apierr.Transient(err)
		}
		if outcome.JobStatus != "" {
			if err := p.jobs.UpdateFields(ctx, tx, job.ID, map[string]interface{}{"status": outcome.JobStatus}); err != nil {
				return apierr.Transient(err)
			}
			job.Status = outcome.JobStatus
		}

		if !outcome.Continue {
			return nil
		}

		if updated.Status.Terminal() && updated.Status != domain.ItemCanceled {
			if err := p.planner.OnWorkItemComplete(ctx, tx, job, updated); err != nil {
				return err
			}
		}

		if lifecycle.AllComplete(allSteps) {
			if err := p.lifecycl.FinalizeJob(ctx, tx, job); err != nil {
				return apierr.Transient(err)
			}
		}

		return nil
	})
}

// applyGranuleShrink implements §4.4: "if hits is present and <
// job.numInputGranules, lower numInputGranules and recompute the expected
// count of the first (query-cmr) step".
func (p *Processor) applyGranuleShrink(ctx context.Context, tx *gorm.DB, job *domain.Job, hits *int) error {
	if hits == nil || *hits >= job.NumInputGranules {
		return nil
	}
	job.NumInputGranules = *hits
	if err := p.jobs.UpdateFields(ctx, tx, job.ID, map[string]interface{}{"num_input_granules": job.NumInputGranules}); err != nil {
		return apierr.Transient(err)
	}

	allSteps, err := p.steps.ListForJob(ctx, tx, job.ID)
	if err != nil {
		return apierr.Transient(err)
	}
	for _, s := range allSteps {
		if s.IsQueryCmr() {
			expected := scheduler.CmrPageCount(job.NumInputGranules, p.cfg.CmrMaxPageSize)
			if err := p.steps.SetWorkItemCount(ctx, tx, job.ID, s.StepIndex, expected); err != nil {
				return apierr.Transient(err)
			}
			break
		}
	}
	return nil
}

func (p *Processor) advanceStep(ctx context.Context, tx *gorm.DB, job *domain.Job, item *domain.WorkItem) (bool, error) {
	if !item.Status.Terminal() {
		return false, nil
	}
	step, err := p.steps.IncrementCompletedCount(ctx, tx, job.ID, item.WorkflowStepIndex, 1)
	if err != nil {
		return false, apierr.Transient(err)
	}
	if step == nil {
		return false, nil
	}
	complete := step.CompletedWorkItemCount >= step.WorkItemCount
	if complete && !step.IsComplete {
		if err := p.steps.MarkComplete(ctx, tx, job.ID, item.WorkflowStepIndex); err != nil {
			return false, apierr.Transient(err)
		}
	}

	isLast, err := p.isLastStep(ctx, job.ID, item.WorkflowStepIndex)
	if err != nil {
		return false, apierr.Transient(err)
	}
	if err := p.lifecycl.HandlePreviewPause(ctx, tx, job, isLast, step.CompletedWorkItemCount); err != nil {
		return false, apierr.Transient(err)
	}
	return complete, nil
}

// createJobLinks turns the last step's flattened STAC items into rel=data
// job links (§4.4/§4.5: "generate the job's output links from the final
// step's result catalogs").
func (p *Processor) createJobLinks(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, items []stac.Item) error {
	for _, it := range items {
		link := &domain.JobLink{
			JobID: jobID,
			Href:  it.Href,
			Rel:   domain.JobLinkRelData,
			Type:  it.Type,
		}
		if err := p.links.Create(ctx, tx, link); err != nil {
			return err
		}
	}
	return nil
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
