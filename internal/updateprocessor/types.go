package updateprocessor

import (
	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/stac"
)

// Update mirrors the inner "update" object of the on-queue update message
// (§6). It carries no step operation and no preprocess result;
// ApplyUpdate runs Preprocess itself.
type Update struct {
	WorkItemID        uint64
	Status            domain.WorkItemStatus
	Message           string
	MessageCategory   string
	Hits              *int
	Results           []string
	OutputItemSizes   []int64
	TotalItemsSize    *int64
	Duration          int64 // nanoseconds, service-reported
	WorkflowStepIndex int
	ScrollID          string
}

// PreprocessResult carries what the preprocessing stage (outside LockJob,
// §4.4) resolved: STAC catalog items for link generation, and output
// sizes for URLs the service didn't size itself.
type PreprocessResult struct {
	Status          domain.WorkItemStatus // rewritten to FAILED on preprocessing error
	FailureMessage  string
	FailureCategory string
	CatalogItems    []stac.Item
	OutputItemSizes []int64
}
