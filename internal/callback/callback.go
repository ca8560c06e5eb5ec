// Package callback implements §4.8: the legacy per-job completion
// ingress used by backend services that report results against a job
// rather than per-work-item.
package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nasa/harmony-workflow-core/internal/apierr"
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/objectstorage"
	"github.com/nasa/harmony-workflow-core/internal/queue"
	"github.com/nasa/harmony-workflow-core/internal/store"
	"github.com/nasa/harmony-workflow-core/internal/updateprocessor"
)

var validate = validator.New()

// Payload is the per-job callback form (§4.8): query or body fields,
// exactly one of Error, Status, Redirect, or a streamed content body.
type Payload struct {
	Error    string    `validate:"omitempty"`
	Status   string    `validate:"omitempty,oneof=successful failed running_with_errors"`
	Redirect string    `validate:"omitempty,url"`
	Progress *int      `validate:"omitempty,gte=0,lte=100"`
	BBox     []float64 `validate:"omitempty,len=4"`
	Temporal []string  `validate:"omitempty,len=2,dive,required"`

	ContentType string
	ContentBody io.Reader
	Filename    string
}

type Ingress struct {
	jobs    store.JobRepo
	items   store.WorkItemRepo
	updates queue.UpdateQueue
	objects objectstorage.Store
	log     *logger.Logger
}

func New(jobs store.JobRepo, items store.WorkItemRepo, updates queue.UpdateQueue, objects objectstorage.Store, baseLog *logger.Logger) *Ingress {
	return &Ingress{jobs: jobs, items: items, updates: updates, objects: objects, log: baseLog.With("component", "CallbackIngress")}
}

// Handle validates p and synthesizes an update message for the job's
// currently RUNNING work item. workItemID, if non-nil, names the item
// explicitly; otherwise the job's sole RUNNING item is resolved (§12
// Supplemented: the bit-exact spec names this endpoint per-job, so a
// caller that omits workItemID relies on exactly one item being RUNNING).
func (ing *Ingress) Handle(ctx context.Context, jobID uuid.UUID, workItemID *uint64, p Payload) error {
	if err := ing.validatePayload(p); err != nil {
		return apierr.Validation(err)
	}

	job, err := ing.jobs.GetByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apierr.Conflict(fmt.Errorf("job %s already ended", jobID))
	}

	var item *domain.WorkItem
	if workItemID != nil {
		item, err = ing.items.GetByID(ctx, nil, *workItemID)
	} else {
		item, err = ing.items.GetRunningForJob(ctx, nil, jobID)
	}
	if err != nil {
		return err
	}
	if item == nil {
		return apierr.Conflict(fmt.Errorf("no unambiguous running work item for job %s", jobID))
	}

	u := updateprocessor.Update{
		WorkItemID:        item.ID,
		WorkflowStepIndex: item.WorkflowStepIndex,
	}

	switch {
	case p.Error != "":
		u.Status = domain.ItemFailed
		u.Message = p.Error
		u.MessageCategory = "harmony.ServiceRuntimeError"
	case p.Status != "":
		// Async jobs never take a final job status from the callback
		// (§4.8) — only §4.6's internal completion may do that. A
		// status callback still advances the work item, never the job.
		u.Status = domain.WorkItemStatus(p.Status)
	case p.Redirect != "":
		u.Status = domain.ItemSuccessful
		u.Results = []string{p.Redirect}
	case p.ContentBody != nil:
		href, err := ing.stageContentBody(ctx, jobID, item.ID, p)
		if err != nil {
			return apierr.Transient(err)
		}
		u.Status = domain.ItemSuccessful
		u.Results = []string{href}
	default:
		return apierr.Validation(fmt.Errorf("callback must carry exactly one of error, status, redirect, or a content body"))
	}

	payload, err := json.Marshal(u)
	if err != nil {
		return apierr.Fatal(err)
	}
	sev := queue.Small
	if len(u.Results) > 0 {
		sev = queue.Large
	}
	return ing.updates.Enqueue(ctx, sev, payload)
}

func (ing *Ingress) validatePayload(p Payload) error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	set := 0
	if p.Error != "" {
		set++
	}
	if p.Status != "" {
		set++
	}
	if p.Redirect != "" {
		set++
	}
	if p.ContentBody != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of error, status, redirect, or content body is required, got %d", set)
	}
	for _, ts := range p.Temporal {
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			return fmt.Errorf("temporal value %q is not RFC3339: %w", ts, err)
		}
	}
	return nil
}

func (ing *Ingress) stageContentBody(ctx context.Context, jobID uuid.UUID, workItemID uint64, p Payload) (string, error) {
	if ing.objects == nil {
		return "", fmt.Errorf("no object storage configured for callback content bodies")
	}
	key := fmt.Sprintf("%s/%d/outputs/%s", jobID, workItemID, p.Filename)
	return ing.objects.PutStream(ctx, key, p.ContentType, p.ContentBody)
}
