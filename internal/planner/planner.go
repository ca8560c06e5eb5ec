// Package planner implements §4.5: deciding what happens to the next
// workflow step when a work item completes — plain fan-out, full
// aggregation, batched aggregation, or query-cmr self-continuation.
package planner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/apierr"
	"github.com/nasa/harmony-workflow-core/internal/config"
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/queue"
	"github.com/nasa/harmony-workflow-core/internal/stac"
	"github.com/nasa/harmony-workflow-core/internal/store"
)

type Planner struct {
	steps    store.WorkflowStepRepo
	items    store.WorkItemRepo
	userWork store.UserWorkRepo

	wakeups queue.WakeupQueue
	catalog stac.Reader
	writer  stac.Writer

	cfg config.Config
	log *logger.Logger
}

func New(
	steps store.WorkflowStepRepo, items store.WorkItemRepo, userWork store.UserWorkRepo,
	wakeups queue.WakeupQueue, catalog stac.Reader, writer stac.Writer,
	cfg config.Config, baseLog *logger.Logger,
) *Planner {
	return &Planner{
		steps: steps, items: items, userWork: userWork,
		wakeups: wakeups, catalog: catalog, writer: writer,
		cfg: cfg, log: baseLog.With("component", "Planner"),
	}
}

// OnWorkItemComplete runs inside the caller's LockJob transaction once a
// work item reaches a terminal, non-CANCELED status (§4.5). It handles the
// query-cmr self-continuation and, for SUCCESSFUL items, fans the results
// into the next step.
func (p *Planner) OnWorkItemComplete(ctx context.Context, tx *gorm.DB, job *domain.Job, item *domain.WorkItem) error {
	current, err := p.steps.Get(ctx, tx, job.ID, item.WorkflowStepIndex)
	if err != nil {
		return apierr.Transient(err)
	}
	if current == nil {
		return nil
	}

	if current.IsQueryCmr() {
		if err := p.continueQueryCmr(ctx, tx, job, current, item); err != nil {
			return err
		}
	}

	if item.Status != domain.ItemSuccessful {
		return nil
	}

	next, err := p.steps.Get(ctx, tx, job.ID, item.WorkflowStepIndex+1)
	if err != nil {
		return apierr.Transient(err)
	}
	if next == nil {
		// Last step: link generation happens in Preprocess/process, not here.
		return nil
	}

	switch {
	case next.IsBatched:
		return p.planBatched(ctx, tx, job, current, next, item)
	case next.HasAggregatedOutput:
		return p.planAggregated(ctx, tx, job, current, next)
	default:
		return p.planFanOut(ctx, tx, job, current, next, item)
	}
}

// planFanOut implements §4.5 case 1: one new READY item per result URL,
// preserving sortIndex unless the parent step itself reordered
// (aggregated or sequential), in which case a fresh base is taken.
func (p *Planner) planFanOut(ctx context.Context, tx *gorm.DB, job *domain.Job, current, next *domain.WorkflowStep, item *domain.WorkItem) error {
	results := item.ResultsSlice()
	if len(results) == 0 {
		return nil
	}

	base := int64(0)
	freshBase := current.HasAggregatedOutput || current.IsSequential
	if freshBase {
		max, err := p.items.MaxSortIndexForJobService(ctx, tx, job.ID, next.ServiceID)
		if err != nil {
			return apierr.Transient(err)
		}
		base = max + 1
	} else {
		base = item.SortIndex
	}

	items := make([]*domain.WorkItem, 0, len(results))
	for i, href := range results {
		items = append(items, &domain.WorkItem{
			JobID:               job.ID,
			ServiceID:           next.ServiceID,
			WorkflowStepIndex:   next.StepIndex,
			Status:              domain.ItemReady,
			StacCatalogLocation: href,
			SortIndex:           base + int64(i),
		})
	}
	return p.insertAndWake(ctx, tx, job.ID, next, items)
}

// planAggregated implements §4.5 case 2: only once every prior-step item
// is complete, gather every prior catalog, flatten, page, write to object
// storage, and insert a single READY item pointing at the first page.
func (p *Planner) planAggregated(ctx context.Context, tx *gorm.DB, job *domain.Job, current, next *domain.WorkflowStep) error {
	fresh, err := p.steps.Get(ctx, tx, job.ID, current.StepIndex)
	if err != nil {
		return apierr.Transient(err)
	}
	if fresh == nil || fresh.CompletedWorkItemCount < fresh.WorkItemCount {
		return nil
	}

	prior, err := p.items.ListCompleteForStep(ctx, tx, job.ID, current.StepIndex)
	if err != nil {
		return apierr.Transient(err)
	}

	gathered, err := p.flattenCatalogs(ctx, prior)
	if err != nil {
		return err
	}
	if len(gathered) < len(prior) {
		return apierr.Data(fmt.Errorf("aggregation lost data: gathered %d items for %d completed work items", len(gathered), len(prior)))
	}

	pages := pageItems(gathered, p.cfg.AggregateStacCatalogMaxPageSize)
	href, err := p.writeCatalog(ctx, job.ID, next.StepIndex, -1, pages)
	if err != nil {
		return err
	}

	wi := &domain.WorkItem{
		JobID: job.ID, ServiceID: next.ServiceID, WorkflowStepIndex: next.StepIndex,
		Status: domain.ItemReady, StacCatalogLocation: href, SortIndex: 0,
	}
	return p.insertAndWake(ctx, tx, job.ID, next, []*domain.WorkItem{wi})
}

// planBatched implements §4.5 case 3: accumulate into batches of
// aggregateStacCatalogMaxPageSize by count, emitting one READY item per
// filled batch, and flushing the remainder once the prior step is entirely
// complete. Batches are bounded by item count only; outputItemSizes is not
// consulted, so there is no byte-size cap.
func (p *Planner) planBatched(ctx context.Context, tx *gorm.DB, job *domain.Job, current, next *domain.WorkflowStep, item *domain.WorkItem) error {
	pageSize := p.cfg.AggregateStacCatalogMaxPageSize
	if pageSize <= 0 {
		pageSize = 1
	}

	fresh, err := p.steps.Get(ctx, tx, job.ID, current.StepIndex)
	if err != nil {
		return apierr.Transient(err)
	}
	if fresh == nil {
		return nil
	}
	completedCount := fresh.CompletedWorkItemCount
	allPriorComplete := completedCount >= fresh.WorkItemCount

	batchIndex := (completedCount - 1) / pageSize
	batchFull := completedCount%pageSize == 0

	if !batchFull && !allPriorComplete {
		return nil
	}

	lo := batchIndex * pageSize
	hi := lo + pageSize
	if hi > completedCount {
		hi = completedCount
	}
	if lo >= hi {
		return nil
	}

	prior, err := p.items.ListCompleteForStep(ctx, tx, job.ID, current.StepIndex)
	if err != nil {
		return apierr.Transient(err)
	}
	if hi > len(prior) {
		hi = len(prior)
	}
	batch := prior[lo:hi]
	if len(batch) == 0 {
		return nil
	}

	gathered, err := p.flattenCatalogs(ctx, batch)
	if err != nil {
		return err
	}
	pages := pageItems(gathered, pageSize)
	href, err := p.writeCatalog(ctx, job.ID, next.StepIndex, batchIndex, pages)
	if err != nil {
		return err
	}

	base, err := p.items.MaxSortIndexForJobService(ctx, tx, job.ID, next.ServiceID)
	if err != nil {
		return apierr.Transient(err)
	}
	wi := &domain.WorkItem{
		JobID: job.ID, ServiceID: next.ServiceID, WorkflowStepIndex: next.StepIndex,
		Status: domain.ItemReady, StacCatalogLocation: href, SortIndex: base + 1,
	}
	return p.insertAndWake(ctx, tx, job.ID, next, []*domain.WorkItem{wi})
}

// continueQueryCmr implements §4.5's self-continuation: the granule
// budget shrinks by cmrMaxPageSize per successful page until exhausted.
func (p *Planner) continueQueryCmr(ctx context.Context, tx *gorm.DB, job *domain.Job, step *domain.WorkflowStep, item *domain.WorkItem) error {
	if p.cfg.CmrMaxPageSize <= 0 || item.Status != domain.ItemSuccessful {
		return nil
	}
	successCount, err := p.items.CountTerminalForStep(ctx, tx, job.ID, step.StepIndex, domain.ItemSuccessful)
	if err != nil {
		return apierr.Transient(err)
	}

	limit := job.NumInputGranules - successCount*p.cfg.CmrMaxPageSize
	if limit > p.cfg.CmrMaxPageSize {
		limit = p.cfg.CmrMaxPageSize
	}
	if limit <= 0 {
		return nil
	}

	clone := &domain.WorkItem{
		JobID: job.ID, ServiceID: item.ServiceID, WorkflowStepIndex: item.WorkflowStepIndex,
		Status: domain.ItemReady, ScrollID: item.ScrollID, SortIndex: item.SortIndex + 1,
	}
	return p.insertAndWake(ctx, tx, job.ID, step, []*domain.WorkItem{clone})
}

func (p *Planner) insertAndWake(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, step *domain.WorkflowStep, items []*domain.WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := p.items.InsertWorkItems(ctx, tx, items); err != nil {
		return apierr.Transient(err)
	}
	if err := p.steps.IncrementWorkItemCount(ctx, tx, step.JobID, step.StepIndex, len(items)); err != nil {
		return apierr.Transient(err)
	}
	if err := p.userWork.IncrementReady(ctx, tx, step.JobID, step.ServiceID, len(items)); err != nil {
		return apierr.Transient(err)
	}
	if p.wakeups != nil {
		if err := p.wakeups.Notify(ctx, step.ServiceID); err != nil {
			p.log.Warn("wakeup notify failed", "serviceID", step.ServiceID, "error", err)
		}
	}
	return nil
}

func (p *Planner) flattenCatalogs(ctx context.Context, items []*domain.WorkItem) ([]stac.Item, error) {
	var out []stac.Item
	for _, it := range items {
		if p.catalog == nil {
			out = append(out, stac.Item{Href: it.StacCatalogLocation})
			continue
		}
		catalogItems, err := p.catalog.ReadCatalogItems(ctx, it.StacCatalogLocation)
		if err != nil {
			return nil, apierr.Data(err)
		}
		out = append(out, catalogItems...)
	}
	return out, nil
}

func (p *Planner) writeCatalog(ctx context.Context, jobID uuid.UUID, stepIndex int, batchIndex int, pages []stac.Catalog) (string, error) {
	if p.writer == nil {
		if len(pages) > 0 && len(pages[0].Items) > 0 {
			return pages[0].Items[0].Href, nil
		}
		return "", nil
	}
	prefix := fmt.Sprintf("%s/step-%d", jobID, stepIndex)
	if batchIndex >= 0 {
		prefix = fmt.Sprintf("%s/batch-%d", prefix, batchIndex)
	}
	href, err := p.writer.WriteCatalogPages(ctx, prefix, pages)
	if err != nil {
		return "", apierr.Transient(err)
	}
	return href, nil
}

func pageItems(items []stac.Item, pageSize int) []stac.Catalog {
	if pageSize <= 0 {
		pageSize = len(items)
		if pageSize == 0 {
			pageSize = 1
		}
	}
	var pages []stac.Catalog
	for i := 0; i < len(items); i += pageSize {
		end := i + pageSize
		if end > len(items) {
			end = len(items)
		}
		pages = append(pages, stac.Catalog{Items: items[i:end]})
	}
	if len(pages) == 0 {
		pages = append(pages, stac.Catalog{})
	}
	return pages
}
